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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mlcserve/internal/common/fsutil"
	"mlcserve/internal/common/logging"
	"mlcserve/internal/config"
	"mlcserve/internal/engine"
	"mlcserve/internal/httpapi"
	"mlcserve/internal/manager"
	"mlcserve/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mlcserve:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	d := config.Defaults()
	root := &cobra.Command{
		Use:           "mlcserve",
		Short:         "Serve an imported MLC model over HTTP",
		Long:          "mlcserve loads a model previously imported with mlcimport, starts the MLC engine for it and streams completions over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	f := root.Flags()
	f.String("config", "", "Config file (.yaml, .json or .toml)")
	f.String("addr", d.Addr, "HTTP listen address")
	f.String("store-dir", d.StoreDir, "Model store directory")
	f.String("model-tag", d.ModelTag, "Store entry to serve (tag or tag:version)")
	f.String("model-id", "", "Model id to register the engine under (default: the id recorded at import)")
	f.String("device", d.Device, "Device passed to the engine")
	f.String("engine-bin", d.EngineBin, "mlc_llm executable used to spawn the engine")
	f.String("engine-url", "", "Use an already running engine at this URL instead of spawning one")
	f.String("engine-startup-timeout", d.EngineStartupTimeout, "How long to wait for the engine to become healthy")
	f.Int64("max-body-bytes", d.MaxBodyBytes, "Maximum JSON request body size")
	f.Bool("cors-enabled", false, "Enable CORS")
	f.String("cors-origins", "", "Comma-separated allowed CORS origins")
	f.String("log-level", d.LogLevel, "Log level: debug|info|warn|error")
	f.String("log-format", "auto", "Log format: auto|console|json")
	f.String("log-file", "", "Also write JSON logs to this rotating file")

	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("log-format")
		log, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: format, File: cfg.LogFile}, os.Stderr)
		if err != nil {
			return err
		}
		defer closer.Close()
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	}
	return root
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	storeDir, err := fsutil.ResolveDir(cfg.StoreDir)
	if err != nil {
		return err
	}
	st, err := store.Open(storeDir)
	if err != nil {
		return err
	}
	factory, err := engineFactory(cfg, log)
	if err != nil {
		return err
	}

	// The default id is only a fallback; the id recorded at import wins.
	modelID := cfg.ModelID
	if modelID == config.DefaultModelID {
		modelID = ""
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Store:   st,
		Ref:     cfg.ModelTag,
		ModelID: modelID,
		Factory: factory,
		Logger:  log.With().Str("component", "manager").Logger(),
	})
	defer mgr.Close()

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(cfg.LogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetDefaultPrompt(config.DefaultPrompt)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
		[]string{"Content-Type", "Authorization", "X-Log-Level"})
	httpapi.SetBaseContext(ctx)

	// Startup failures are fatal: there is nothing to serve without an engine.
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("model", mgr.DefaultModel()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return mgr.Close()
}

// engineFactory connects to EngineURL when set and spawns mlc_llm otherwise.
func engineFactory(cfg config.Config, log zerolog.Logger) (engine.Factory, error) {
	elog := log.With().Str("component", "engine").Logger()
	if cfg.EngineURL != "" {
		return func(ctx context.Context, modelPath, libPath string) (engine.Engine, error) {
			r := engine.NewRemote(cfg.EngineURL, engine.Options{Logger: elog})
			hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := r.Health(hctx); err != nil {
				return nil, manager.ErrDependencyUnavailable(fmt.Sprintf("engine at %s: %v", cfg.EngineURL, err))
			}
			return r, nil
		}, nil
	}
	timeout, err := cfg.StartupTimeout()
	if err != nil {
		return nil, err
	}
	// The binary is checked when the manager asks for an engine, after the
	// store entry and its library resolved.
	return func(ctx context.Context, modelPath, libPath string) (engine.Engine, error) {
		if err := manager.SanityCheck(cfg.EngineBin).Err(); err != nil {
			return nil, err
		}
		return engine.NewSubprocess(ctx, engine.SubprocessConfig{
			Bin:            cfg.EngineBin,
			ModelPath:      modelPath,
			LibPath:        libPath,
			Device:         cfg.Device,
			Host:           cfg.EngineHost,
			PortStart:      cfg.EnginePortStart,
			PortEnd:        cfg.EnginePortEnd,
			StartupTimeout: timeout,
			Logger:         elog,
		})
	}, nil
}
