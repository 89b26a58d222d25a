package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/config"
	"github.com/contextkit/contextd/pkg/discovery"
	"github.com/contextkit/contextd/pkg/log"
	"github.com/contextkit/contextd/pkg/provider"
	"github.com/contextkit/contextd/pkg/provider/battery"
	"github.com/contextkit/contextd/pkg/provider/lowmem"
	"github.com/contextkit/contextd/pkg/provider/sqlstore"
	"github.com/contextkit/contextd/pkg/service"
)

// installer is a built-in provider that registers itself with a manager.
type installer interface {
	Install(m *broker.Manager) error
}

// daemon is a broker with its built-in providers and its service.
type daemon struct {
	logger  *slog.Logger
	manager *broker.Manager
	service *service.Service

	eventFile *log.FileLogger
	closers   []io.Closer
}

// newDaemon creates the manager, installs the configured providers and
// prepares the service. Nothing listens until run.
func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{logger: logger}

	var events log.Logger
	if cfg.Log.Events != "" {
		fl, err := log.NewFileLogger(cfg.Log.Events)
		if err != nil {
			return nil, err
		}
		d.eventFile = fl
		d.closers = append(d.closers, fl)
		events = fl
		if logger.Enabled(context.Background(), slog.LevelDebug) {
			events = log.NewMultiLogger(fl, log.NewSlogAdapter(logger.With("component", "events")))
		}
	}

	d.manager = broker.NewManagerWithConfig(broker.Config{
		Logger:      logger.With("component", "broker"),
		EventLogger: events,
	})

	if err := d.installProviders(cfg); err != nil {
		d.close()
		return nil, err
	}

	svcConfig := service.DefaultConfig()
	svcConfig.Network = cfg.Listen.Network
	svcConfig.Address = cfg.Listen.Address
	svcConfig.MaxMessageSize = uint32(cfg.Listen.MaxMessageSize)
	svcConfig.MaxOutboundQueue = cfg.Listen.MaxOutboundQueue
	svcConfig.KeepAlive = cfg.TransportKeepAlive()
	svcConfig.Logger = logger.With("component", "service")
	svcConfig.EventLogger = events
	svcConfig.Instance = cfg.Discovery.Instance

	if cfg.Discovery.Enabled {
		adv, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
		if err != nil {
			d.close()
			return nil, fmt.Errorf("failed to create advertiser: %w", err)
		}
		svcConfig.Advertiser = adv
	}

	svc, err := service.New(d.manager, svcConfig)
	if err != nil {
		d.close()
		return nil, err
	}
	d.service = svc
	return d, nil
}

func (d *daemon) installProviders(cfg *config.Config) error {
	p := cfg.Providers

	if p.LowMem.Enabled {
		lm, err := lowmem.New(lowmem.Config{
			LowWatermark:  p.LowMem.LowWatermark,
			HighWatermark: p.LowMem.HighWatermark,
			Logger:        d.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create lowmem provider: %w", err)
		}
		if err := d.install("lowmem", lm); err != nil {
			return err
		}
		d.closers = append(d.closers, lm)
	}

	if p.Battery.Enabled {
		bat, err := battery.New(battery.Config{
			Dir:          p.Battery.Dir,
			PollInterval: p.Battery.PollInterval,
			LowThreshold: p.Battery.LowThreshold,
			Logger:       d.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create battery provider: %w", err)
		}
		if err := d.install("battery", bat); err != nil {
			return err
		}
		d.closers = append(d.closers, bat)
	}

	if p.SQLite.Enabled {
		store, err := sqlstore.Open(sqlstore.Config{
			Path:         p.SQLite.Path,
			Table:        p.SQLite.Table,
			Keys:         p.SQLite.Keys,
			PollInterval: p.SQLite.PollInterval,
			Logger:       d.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to open sqlite provider: %w", err)
		}
		d.closers = append(d.closers, store)
		if err := d.install("sqlite", store); err != nil {
			return err
		}
	}

	if len(p.Static) > 0 {
		values, err := cfg.StaticValues()
		if err != nil {
			return err
		}
		static, err := provider.NewStatic(provider.Config{Logger: d.logger}, values)
		if err != nil {
			return fmt.Errorf("failed to create static provider: %w", err)
		}
		if err := d.install("static", static); err != nil {
			return err
		}
	}
	return nil
}

func (d *daemon) install(name string, p installer) error {
	if err := p.Install(d.manager); err != nil {
		return fmt.Errorf("failed to install %s provider: %w", name, err)
	}
	d.logger.Info("provider installed", "provider", name)
	return nil
}

// run starts the service and serves until ctx is cancelled.
func (d *daemon) run(ctx context.Context) error {
	if err := d.start(ctx); err != nil {
		return err
	}
	return d.serve(ctx)
}

func (d *daemon) start(ctx context.Context) error {
	return d.service.Start(ctx)
}

// serve applies committed change sets until ctx is cancelled, then stops
// the service.
func (d *daemon) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := d.manager.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info("shutting down")
		if err := d.service.Stop(); err != nil && !errors.Is(err, service.ErrNotStarted) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// close releases providers and the event file.
func (d *daemon) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			d.logger.Warn("close failed", "error", err)
		}
	}
	d.closers = nil
	if d.eventFile != nil {
		written, dropped := d.eventFile.Stats()
		d.logger.Info("event log closed", "written", written, "dropped", dropped)
		d.eventFile = nil
	}
}
