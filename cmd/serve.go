package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/silhouette/internal/rpc"
	"github.com/andresmejia3/silhouette/internal/utils"
	"github.com/spf13/cobra"
)

var serveOpts rpc.Options

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer measurement requests over MQTT",
	Long: `Subscribes to <prefix>/measure/request and publishes each answer to
<prefix>/measure/response/<request_id>. Requests carry a mask and landmarks;
no model workers are started.`,
	Run: func(cmd *cobra.Command, args []string) {
		s := rpc.NewServer(newEngine(), serveOpts)
		fmt.Fprintf(os.Stderr, "📡 Serving on %s via %s\n", s.RequestTopic(), serveOpts.Broker)
		if err := s.Run(cmd.Context()); err != nil {
			utils.Die("MQTT service failed", err, nil)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	serveCmd.Flags().StringVar(&serveOpts.ClientID, "client-id", "", "MQTT client ID (default: random uuid)")
	serveCmd.Flags().StringVar(&serveOpts.TopicPrefix, "topic-prefix", rpc.DefaultTopicPrefix, "Topic prefix for requests and responses")
	serveCmd.Flags().Uint8Var(&serveOpts.QoS, "qos", 0, "MQTT quality of service (0, 1 or 2)")
	rootCmd.AddCommand(serveCmd)
}
