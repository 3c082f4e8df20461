package main

import (
	"os"

	"github.com/matheuscscp/link-chat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
