package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roastedbeans/certification-authority/internal/app"
	"github.com/roastedbeans/certification-authority/internal/config"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

var version = "development"

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config/app-config.yaml"), "path to the YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "ca-server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := resolveSecrets(ctx, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg, version)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      a.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("ca server listening", "addr", srv.Addr, "env", cfg.Env, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Errorw("shutdown incomplete", "error", err)
	}
	return runErr
}

// resolveSecrets only talks to AWS when the config names a secret or
// parameter.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	var secrets config.SecretSource
	var params config.ParameterSource
	if cfg.Auth.SigningKeySecret != "" {
		l, err := config.NewAWSSecretsLoader(ctx)
		if err != nil {
			return err
		}
		secrets = l
	}
	if cfg.ClientsParameter != "" {
		l, err := config.NewSSMLoader(ctx)
		if err != nil {
			return err
		}
		params = l
	}
	return cfg.Resolve(ctx, secrets, params)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
