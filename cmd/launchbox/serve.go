package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/launchbox/launchbox/internal/apps"
	"github.com/launchbox/launchbox/internal/bridge"
	"github.com/launchbox/launchbox/internal/config"
	"github.com/launchbox/launchbox/internal/events"
	"github.com/launchbox/launchbox/internal/hardware"
	"github.com/launchbox/launchbox/internal/httpserver"
	"github.com/launchbox/launchbox/internal/logging"
	"github.com/launchbox/launchbox/internal/reloader"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hardware service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfgPath)
		},
	}
}

func serve(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, level := logging.New(logging.Cfg{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})
	defer logger.Sync()

	// Banner
	fmt.Println(`
 _                        _     _
| | __ _ _   _ _ __   ___| |__ | |__   _____  __
| |/ _' | | | | '_ \ / __| '_ \| '_ \ / _ \ \/ /
| | (_| | |_| | | | | (__| | | | |_) | (_) >  <
|_|\__,_|\__,_|_| |_|\___|_| |_|_.__/ \___/_/\_\
------------------------------------------------
Config:  ` + cfgPath + `
`)

	bus := events.NewBus(logger.Named("bus"))
	hw, err := hardware.Probe(logger.Named("hardware"), bus, cfg.Hardware)
	if err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	logger.Info("hardware ready", zap.String("variant", string(hw.Kind())))

	br := bridge.New(cfg.Bridge, logger.Named("bridge"), bus, hw)
	if err := br.Start(); err != nil {
		return err
	}

	mgr := apps.NewManager(logger.Named("apps"), bus, hw.Devices())
	for _, app := range apps.Builtin() {
		if err := mgr.Register(app); err != nil {
			return err
		}
	}
	if err := mgr.BindLauncher(); err != nil {
		return err
	}

	srv := httpserver.New(cfg, logger.Named("http"), bus, br, mgr, hw.Kind())

	reloader.OnSIGHUP(ctx, func() {
		newCfg, err := config.Load(cfgPath)
		if err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		logging.SetLevel(level, newCfg.Logging.Level)
		br.Reload(newCfg.Bridge)
		srv.Reload(newCfg)
		logger.Info("reloaded config")
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hw.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", addr), zap.Bool("tls", cfg.HTTP.TLS.Enabled))
		var err error
		if cfg.HTTP.TLS.Enabled {
			err = httpSrv.ListenAndServeTLS(cfg.HTTP.TLS.Cert, cfg.HTTP.TLS.Key)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		br.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		mgr.Shutdown()
		if err := bus.Close(shutdownCtx); err != nil {
			logger.Warn("bus drain", zap.Error(err))
		}
		if err := hw.Close(); err != nil {
			logger.Warn("hardware close", zap.Error(err))
		}
		logger.Info("bye")
		return nil
	})
	return g.Wait()
}
