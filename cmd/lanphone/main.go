package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/lanphone"
	"github.com/opd-ai/lanphone/config"
	"github.com/opd-ai/lanphone/event"
	"github.com/opd-ai/lanphone/metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// setupSignalHandling cancels ctx on SIGINT or SIGTERM.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithFields(logrus.Fields{
			"function": "setupSignalHandling",
			"signal":   sig.String(),
		}).Info("Shutting down")
		cancel()
	}()
}

// serveMetrics exposes m on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger := logrus.WithFields(logrus.Fields{
		"function": "serveMetrics",
		"addr":     addr,
	})
	logger.Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("Metrics server failed")
	}
}

func run(args []string) error {
	fs := config.NewFlagSet("lanphone")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg, err := config.FromFlags(fs)
	if err != nil {
		return err
	}
	cfg.ConfigureLogging()

	opts := lanphone.OptionsFromConfig(cfg)
	prompts := newPromptDecider(os.Stdout)
	if !cfg.AutoAccept.Call || !cfg.AutoAccept.Chat {
		opts.Decider = event.Funcs{
			Call: func(ctx context.Context, remote string) bool {
				return cfg.AutoAccept.Call || prompts.DecideCall(ctx, remote)
			},
			Chat: func(ctx context.Context, remote string) bool {
				return cfg.AutoAccept.Chat || prompts.DecideChat(ctx, remote)
			},
		}
	}

	phone, err := lanphone.New(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	if err := phone.Start(ctx); err != nil {
		return err
	}
	defer phone.Kill()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen, phone.Metrics())
	}

	out := &printer{out: os.Stdout}
	go func() { _ = event.Dispatch(ctx, phone.Events(), out) }()

	return newConsole(phone, prompts, os.Stdout).run(ctx, os.Stdin)
}

func main() {
	if err := run(os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "lanphone: %v\n", err)
		os.Exit(1)
	}
}
