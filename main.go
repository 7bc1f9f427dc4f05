package main

import "github.com/andresmejia3/silhouette/cmd"

func main() {
	cmd.Execute()
}
