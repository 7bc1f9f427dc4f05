// Package rpc exposes the measurement engine as a request/response service over MQTT.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/andresmejia3/silhouette/internal/mask"
	"github.com/andresmejia3/silhouette/internal/measure"
	"github.com/andresmejia3/silhouette/internal/monitoring"
	"github.com/andresmejia3/silhouette/internal/pose"
)

const DefaultTopicPrefix = "/silhouette/rpc"

// Request is a measurement request. Width and Height may be omitted when a mask is given.
// A payload that is not valid JSON has no request ID to answer on, so the server logs
// and drops it; Handle reports it as an error response instead.
type Request struct {
	RequestID string         `json:"request_id"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Mask      *mask.Payload  `json:"mask"`
	Landmarks pose.Landmarks `json:"landmarks"`
}

// Response is published to the request's response topic.
type Response struct {
	RequestID string          `json:"request_id"`
	Result    *measure.Result `json:"result,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Options configures the MQTT connection.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Server answers measurement requests with the engine. No model workers are involved:
// callers send a mask and landmarks they already have.
type Server struct {
	engine *measure.Engine
	opts   Options
}

func NewServer(engine *measure.Engine, opts Options) *Server {
	if engine == nil {
		engine = measure.New(measure.DefaultParams())
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.New().String()
	}
	return &Server{engine: engine, opts: opts}
}

// RequestTopic is where the server listens.
func (s *Server) RequestTopic() string {
	return s.opts.TopicPrefix + "/measure/request"
}

// ResponseTopic is where the answer for requestID is published.
func (s *Server) ResponseTopic(requestID string) string {
	return s.opts.TopicPrefix + "/measure/response/" + requestID
}

// Run connects to the broker and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	monitoring.Logf("[RPC] connecting to %s with client ID %s", s.opts.Broker, s.opts.ClientID)
	opts := mqtt.NewClientOptions().AddBroker(s.opts.Broker).SetClientID(s.opts.ClientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(c mqtt.Client) {
		monitoring.Logf("[RPC] connected, subscribing to %s", s.RequestTopic())
		token := c.Subscribe(s.RequestTopic(), s.opts.QoS, func(c mqtt.Client, m mqtt.Message) {
			go s.serve(c, m.Payload())
		})
		if token.Wait() && token.Error() != nil {
			monitoring.Logf("[RPC] subscribe failed: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("[RPC] connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	<-ctx.Done()
	monitoring.Logf("[RPC] shutting down")
	client.Disconnect(250)
	return nil
}

// serve answers one message. It runs on its own goroutine, so a panic is
// logged and swallowed to keep the service up.
func (s *Server) serve(pub publisher, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("[RPC] recovered from panic while serving request: %v", r)
		}
	}()

	req, err := decodeRequest(payload)
	if err != nil {
		monitoring.Logf("[RPC] error parsing request: %v", err)
		return
	}
	resp := s.handle(req)
	data, err := json.Marshal(resp)
	if err != nil {
		monitoring.Logf("[RPC] %s failed to encode response: %v", req.RequestID, err)
		return
	}

	topic := s.ResponseTopic(resp.RequestID)
	token := pub.Publish(topic, s.opts.QoS, false, data)
	if token.Wait() && token.Error() != nil {
		monitoring.Logf("[RPC] %s publish failed: %v", req.RequestID, token.Error())
		return
	}
	monitoring.Logf("[RPC] %s response published to %s", req.RequestID, topic)
}

// Handle decodes one request payload and returns the encoded response.
func (s *Server) Handle(payload []byte) []byte {
	var resp Response
	if req, err := decodeRequest(payload); err != nil {
		resp = Response{RequestID: uuid.New().String(), Error: err.Error()}
	} else {
		resp = s.handle(req)
	}
	data, _ := json.Marshal(resp)
	return data
}

var errNoDimensions = errors.New("width and height are required when no mask is given")

func decodeRequest(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, fmt.Errorf("malformed request: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	return req, nil
}

func (s *Server) handle(req Request) Response {
	resp := Response{RequestID: req.RequestID}

	var grid *mask.Grid
	if req.Mask != nil {
		g, err := req.Mask.Grid(s.engine.Params().Thresholds)
		if err != nil {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("mask ignored: %v", err))
		} else {
			grid = g
		}
	}

	width, height := req.Width, req.Height
	if width <= 0 || height <= 0 {
		if req.Mask == nil || req.Mask.Width <= 0 || req.Mask.Height <= 0 {
			resp.Error = errNoDimensions.Error()
			return resp
		}
		width, height = req.Mask.Width, req.Mask.Height
	}
	if grid != nil && (grid.Width != width || grid.Height != height) {
		resp.Warnings = append(resp.Warnings,
			fmt.Sprintf("mask ignored: %dx%d does not match image %dx%d", grid.Width, grid.Height, width, height))
		grid = nil
	}

	res := s.engine.Measure(measure.Input{
		Mask:      grid,
		Landmarks: req.Landmarks,
		Width:     width,
		Height:    height,
	})
	resp.Result = &res
	return resp
}
