package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tripsitter/tripsitter"
	"github.com/tripsitter/tripsitter/internal/logger"
)

// Exit codes: 0 success, 1 usage/config error, 2 graph build failure,
// 3 runtime engine failure.
const (
	exitUsage       = 1
	exitBuildFailed = 2
	exitFailed      = 3
)

func exitCodeFor(err error) int {
	var se *tripsitter.StateError
	if errors.As(err, &se) {
		switch se.State {
		case tripsitter.StateBuildFailed:
			return exitBuildFailed
		case tripsitter.StateFailed:
			return exitFailed
		}
	}
	return exitUsage
}

// runSupervisor is the body of both the run and build commands.
func runSupervisor(global *GlobalFlags, flags *RunFlags, buildOnly bool) error {
	fc, err := tripsitter.LoadConfig(global.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", global.ConfigPath, err)
	}
	if flags.Port != 0 {
		fc.Port = flags.Port
	}
	if flags.SkipFetch {
		fc.SkipFetch = true
	}
	level := fc.LogLevel
	if global.LogLevel != "" {
		level = global.LogLevel
	}
	logger.Setup(parseLevel(level))

	if err := tripsitter.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		slog.Warn("metrics registration failed", "error", err)
	}

	cfg := fc.ManagerConfig()
	if fc.HistoryDSN != "" {
		sink, err := tripsitter.NewHistorySink(fc.HistoryDSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		cfg.History = sink
	}

	sup := tripsitter.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	if buildOnly {
		if err := sup.Build(ctx); err != nil {
			return err
		}
		slog.Info("graph build complete", "state", sup.State())
		return nil
	}

	var srv interface{ Shutdown(context.Context) error }
	if fc.Listen != "" {
		srv = tripsitter.NewServer(fc.Listen, "/api", sup)
		slog.Info("status API listening", "addr", fc.Listen)
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}
	slog.Info("engine running", "port", sup.Port())

	// Block until interrupted, then stop the engine gracefully.
	<-ctx.Done()
	if srv != nil {
		_ = srv.Shutdown(context.Background())
	}
	if err := sup.Stop(); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lv
}

// printStatus fetches and pretty-prints the supervisor snapshot.
func printStatus(w io.Writer, client *APIClient) error {
	st, err := client.GetStatus()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, string(data))
	return nil
}
