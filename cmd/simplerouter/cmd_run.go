package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/simplerouter/pkg/api"
	"github.com/newtron-network/simplerouter/pkg/audit"
	"github.com/newtron-network/simplerouter/pkg/config"
	"github.com/newtron-network/simplerouter/pkg/device"
	"github.com/newtron-network/simplerouter/pkg/router"
	"github.com/newtron-network/simplerouter/pkg/util"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller for the configured device",
	Long: `Run binds to the device, installs the configured interfaces and routes,
and handles punted packets until interrupted or the packet-in stream fails.

In controller mode the table defaults are installed and every static entry
is written to the device. In device mode the entries are expected to exist
already and only their handles are recovered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func run(ctx context.Context, cfg *config.Config) error {
	mode, err := router.ParseUpdateMode(cfg.UpdateMode)
	if err != nil {
		return err
	}
	log := util.WithDevice(cfg.Device.Name)

	dev, err := device.Dial(ctx, deviceOptions(cfg))
	if err != nil {
		return err
	}
	defer dev.Close()

	owner := holder(cfg)
	r := router.New(dev, router.Options{Holder: owner, BindTTL: cfg.BindTTL})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx) })

	if err := r.Assign(gctx); err != nil {
		return shutdown(g, err)
	}
	defer func() {
		// The run context is gone by now.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := dev.Release(releaseCtx, owner); err != nil {
			log.Warnf("releasing binding: %v", err)
		}
	}()

	if cfg.BindTTL >= time.Second {
		g.Go(func() error { return renewBinding(gctx, dev, owner, cfg.BindTTL) })
	}

	if mode == router.ControllerState {
		if err := r.SetDefaultEntries(gctx); err != nil {
			return shutdown(g, err)
		}
	}
	if err := r.StaticConfig(gctx, mode, cfg.Interfaces, cfg.Routes); err != nil {
		log.Warnf("static config applied partially: %v", err)
	}

	stream, err := dev.SubscribePacketIn(gctx)
	if err != nil {
		return shutdown(g, err)
	}
	defer stream.Close()
	g.Go(func() error {
		return router.NewReceiver(cfg.Device.Name, stream, r).Run(gctx)
	})

	server := api.NewServer(r).WithHealth(dev, cfg.Device.Name, owner)
	if cfg.AuditLog != "" {
		auditLogger, err := audit.NewFileLogger(cfg.AuditLog, audit.RotationConfig{
			MaxSize:    10 * 1024 * 1024,
			MaxBackups: 10,
		})
		if err != nil {
			log.Warnf("audit logging disabled: %v", err)
		} else {
			defer auditLogger.Close()
			server.WithAudit(auditLogger, cfg.Device.Name)
		}
	}
	serve(gctx, g, "management API", cfg.Listen.API, server.Handler(cfg.Listen.Metrics == ""))
	if cfg.Listen.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		serve(gctx, g, "metrics", cfg.Listen.Metrics, mux)
	}

	log.Infof("controller running as %s (%s mode)", owner, mode)
	return g.Wait()
}

// shutdown cancels the group's goroutines and returns err.
func shutdown(g *errgroup.Group, err error) error {
	g.Go(func() error { return err })
	g.Wait()
	return err
}

func serve(ctx context.Context, g *errgroup.Group, name, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})
	g.Go(func() error {
		util.Infof("serving %s on %s", name, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving %s: %w", name, err)
		}
		return nil
	})
}

func renewBinding(ctx context.Context, dev *device.Client, owner string, ttl time.Duration) error {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Renew(ctx, owner, ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
