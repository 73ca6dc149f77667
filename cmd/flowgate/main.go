// flowgate - A hardened HTTP gateway in front of upstream chat flows.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/flowgate/internal/chat"
	"github.com/jeranaias/flowgate/internal/config"
	"github.com/jeranaias/flowgate/internal/flow"
	"github.com/jeranaias/flowgate/internal/ratelimit"
	"github.com/jeranaias/flowgate/internal/server"
	"github.com/jeranaias/flowgate/internal/session"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "flowgate.toml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "flowgate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry, err := session.NewRegistry(cfg.SessionTimeout())
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(cfg.Security.MaxRequestsPerMinute, time.Minute)

	client := flow.NewClient(&flow.ClientConfig{
		ConnectTimeout: cfg.ConnectTimeout(),
		ReadTimeout:    cfg.ReadTimeout(),
		APIKey:         cfg.API.Auth.Key,
	})

	gateway, err := chat.NewGateway(registry, limiter, client, cfg.API.Endpoints)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg, gateway, log.Default())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		log.Printf("SERVER_STOP | signal=%v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(ctx)
}
