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

	"github.com/marketprism/rategov/internal/adapter"
	"github.com/marketprism/rategov/internal/audit"
	"github.com/marketprism/rategov/internal/config"
	"github.com/marketprism/rategov/internal/coordinator"
	"github.com/marketprism/rategov/internal/db"
	"github.com/marketprism/rategov/internal/http/api"

	log "github.com/sirupsen/logrus"
)

const (
	defaultPort     = 8417
	shutdownTimeout = 10 * time.Second
)

// main runs the CLI entrypoint and exits on unrecoverable errors.
func main() {
	if errRun := run(context.Background(), os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the governance server.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rategov", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env RATEGOV_CONFIG)")
	port := fs.Int("port", 0, "status API port, overrides config")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	configPath := config.ResolveConfigPath(*cfgPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if errValidate := config.Validate(cfg); errValidate != nil {
		return errValidate
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observer coordinator.Observer
	var recorder *audit.Recorder
	if cfg.DatabaseDSN != "" {
		conn, errOpen := db.Open(cfg.DatabaseDSN)
		if errOpen != nil {
			return errOpen
		}
		if errMigrate := db.Migrate(conn); errMigrate != nil {
			return errMigrate
		}
		recorder = audit.NewRecorder(conn)
		observer = recorder
		defer recorder.Close()
		log.WithField("dialect", db.DialectName(conn)).Info("audit database ready")
	}

	ad, errAdapter := adapter.New(ctx, cfg, observer)
	if errAdapter != nil {
		return errAdapter
	}
	defer func() { _ = ad.Close() }()

	router := api.NewRouter(api.Options{
		Adapter:        ad,
		JWT:            cfg.JWT,
		AdminTokenHash: cfg.AdminTokenHash,
		Reload: func() error {
			reloaded, errReload := config.Load(configPath)
			if errReload != nil {
				return errReload
			}
			return config.Validate(reloaded)
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":    srv.Addr,
			"service": cfg.ServiceName,
			"mode":    ad.Mode(),
		}).Info("rategov listening")
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
