package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	adminpkg "bucketd/pkg/admin"
	"bucketd/pkg/api/s3"
	"bucketd/pkg/config"
	"bucketd/pkg/engine"
	"bucketd/pkg/metadata"
	"bucketd/pkg/obs/metrics"
	"bucketd/pkg/obs/tracing"
	adminoidc "bucketd/pkg/security/oidc"
	"bucketd/pkg/security/sigv4"
	"bucketd/pkg/storage"
)

var version = "0.1.0-dev"
var ready atomic.Bool

func run(ctx context.Context) error {
	cfgPath := flag.String("config", os.Getenv("BUCKETD_CONFIG"), "path to YAML config")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           parseLevel(*logLevel),
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if err := config.EnsureDataDir(cfg); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}

	traceShutdown, terr := tracing.Init(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Protocol:    cfg.Tracing.Protocol,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if terr != nil {
		slog.Warn("tracing init failed", slog.String("error", terr.Error()))
	}

	var registry metadata.Registry
	switch cfg.MetadataBackend {
	case "sqlite":
		reg, rerr := metadata.OpenSQLiteRegistry(config.DatabasePath(cfg))
		if rerr != nil {
			return fmt.Errorf("open bucket registry: %w", rerr)
		}
		defer reg.Close()
		registry = reg
	default:
		registry = metadata.NewMemoryRegistry()
	}

	var blobs storage.BlobStore
	if cfg.BlobBackend == "fs" {
		fsStore, berr := storage.NewLocalFS(cfg.DataDir)
		if berr != nil {
			return fmt.Errorf("init blob store: %w", berr)
		}
		blobs = fsStore
	} else {
		blobs = storage.NewMemoryBlobStore()
	}
	slog.Info("storage backends",
		slog.String("blobs", cfg.BlobBackend),
		slog.String("metadata", cfg.MetadataBackend),
		slog.String("dataDir", cfg.DataDir),
	)

	eng, err := engine.New(ctx, registry, blobs)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	m := metrics.New()
	eng.SetObserver(metrics.NewEngineMetrics(m.Registry()))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", m.Handler())

	api := s3.NewWithLimits(eng, s3.Limits{
		SinglePutMaxBytes: cfg.Limits.SinglePutMaxBytes,
	})
	apiHandler := api.Handler()

	if cfg.AuthMode == "sigv4" {
		keys := make([]sigv4.AccessKey, 0, len(cfg.AccessKeys))
		for _, k := range cfg.AccessKeys {
			keys = append(keys, sigv4.AccessKey{AccessKey: k.AccessKey, SecretKey: k.SecretKey, User: k.User})
		}
		credStore := sigv4.NewStaticStore(keys)
		exempt := func(r *http.Request) bool {
			switch r.URL.Path {
			case "/livez", "/readyz", "/metrics":
				return true
			default:
				return false
			}
		}
		apiHandler = sigv4.Middleware(credStore, exempt)(apiHandler)
		slog.Info("sigv4 auth enabled", slog.Int("keys", len(keys)))
	}
	apiHandler = tracing.Middleware(apiHandler)
	apiHandler = m.Middleware(apiHandler)
	mux.Handle("/", apiHandler)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var adminSrv *http.Server
	if cfg.AdminAddress != "" {
		adminHandler := http.Handler(adminpkg.NewMux(eng, version))
		if cfg.OIDC.Enabled {
			v, oerr := adminoidc.NewVerifier(ctx, adminoidc.Config{
				Issuer:   cfg.OIDC.Issuer,
				ClientID: cfg.OIDC.ClientID,
				Audience: cfg.OIDC.Audience,
				JWKSURL:  cfg.OIDC.JWKSURL,
			})
			if oerr != nil {
				return fmt.Errorf("admin oidc init: %w", oerr)
			}
			exempt := func(r *http.Request) bool {
				if cfg.OIDC.AllowUnauthHealth && r.URL.Path == "/admin/health" {
					return true
				}
				if cfg.OIDC.AllowUnauthVersion && r.URL.Path == "/admin/version" {
					return true
				}
				return false
			}
			// OIDC runs before RBAC so the subject is present for role checks.
			adminHandler = adminoidc.RBAC(adminoidc.DefaultAdminPolicy())(adminHandler)
			adminHandler = adminoidc.Middleware(v, exempt)(adminHandler)
			slog.Info("admin oidc enabled")
		}
		adminSrv = &http.Server{
			Addr:         cfg.AdminAddress,
			Handler:      adminHandler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		ready.Store(true)
		slog.Info("bucketd listening", slog.String("version", version), slog.String("addr", cfg.Address))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if adminSrv != nil {
		eg.Go(func() error {
			slog.Info("admin listening", slog.String("addr", cfg.AdminAddress))
			if err := adminSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		ready.Store(false)
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("shutdown error", slog.String("error", err.Error()))
		}
		if adminSrv != nil {
			if err := adminSrv.Shutdown(shutCtx); err != nil {
				slog.Error("admin shutdown error", slog.String("error", err.Error()))
			}
		}
		if err := traceShutdown(shutCtx); err != nil {
			slog.Error("tracing shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	err = eg.Wait()
	slog.Info("bucketd stopped")
	return err
}

func parseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		slog.Error("bucketd exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
