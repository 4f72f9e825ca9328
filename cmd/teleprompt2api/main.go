package main

import (
	"fmt"
	"os"

	"github.com/teleprompt2api/api-proxy/internal/cmd"
	"github.com/teleprompt2api/api-proxy/internal/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cmd.Version = Version
	cmd.BuildTime = BuildTime
	config.Version = Version

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
