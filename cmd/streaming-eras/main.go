// Command streaming-eras runs the listening-era timeline API server.
package main

import (
	"fmt"
	"os"

	"github.com/justestif/streaming-eras/internal/config"
	"github.com/justestif/streaming-eras/internal/log"
	"github.com/justestif/streaming-eras/internal/segment"
	"github.com/justestif/streaming-eras/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log.Configure(cfg.LogLevel, nil)
	logger := log.Base()

	ttl, sweep := cfg.TTLs()
	server := web.NewServer(web.ServerConfig{
		Addr:           cfg.Addr,
		AllowedOrigins: cfg.Origins(),
		LLM:            cfg.LLM(),
		Segment:        segment.DefaultConfig(),
		SessionTTL:     ttl,
		SweepInterval:  sweep,
		Logger:         logger,
	})

	return server.Run()
}
