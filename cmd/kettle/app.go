package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mmynk/kettle/internal/api"
	"github.com/mmynk/kettle/internal/client"
	"github.com/mmynk/kettle/internal/config"
	"github.com/mmynk/kettle/internal/connectivity"
	"github.com/mmynk/kettle/internal/events"
	"github.com/mmynk/kettle/internal/models"
	"github.com/mmynk/kettle/internal/storage/sqlite"
	"github.com/mmynk/kettle/internal/syncer"
	"github.com/mmynk/kettle/pkg/logging"
)

var errNoRoom = errors.New("--room is required")

// app is a wired device: local database, HTTP client, connectivity, event
// fan-out and the sync orchestrator.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	local   *sqlite.LocalStore
	remote  *api.Client
	monitor *connectivity.Monitor
	bus     *events.Bus
	nats    *events.NATSPublisher
	client  *client.Client
	syncer  *syncer.Orchestrator
	offline bool
	roomID  int64
}

func loadConfig(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.NewLoader(nil).Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.SetupWith(cfg.Log.Level, cfg.Log.Format), nil
}

// openApp wires the device and probes the server once unless --offline.
func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.Client.Token == "" {
		return nil, errors.New("client.token is required (mint one with 'kettle token')")
	}

	local, err := sqlite.NewLocal(cfg.Client.DBPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		local:   local,
		remote:  api.NewClient(cfg.Client.BaseURL, api.WithTimeout(cfg.Client.RequestTimeout)),
		bus:     events.NewBus(),
		offline: opts.offline,
		roomID:  opts.roomID,
	}
	a.monitor = connectivity.NewMonitor(a.remote, cfg.Client.ProbeInterval, logger)

	publishers := events.Multi{a.bus}
	if cfg.NATS.URL != "" {
		a.nats, err = events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, appName)
		if err != nil {
			logger.Warn("NATS unavailable, events stay local", "url", cfg.NATS.URL, "error", err)
		} else {
			publishers = append(publishers, a.nats)
		}
	}

	a.client = client.New(a.remote, local, a.monitor, cfg.Client.Token,
		client.WithLogger(logger),
		client.WithPublisher(publishers),
	)
	a.syncer = syncer.New(a.client.Queue(), a.client, a.monitor, publishers,
		syncer.WithLogger(logger),
		syncer.WithRetryInterval(cfg.Client.RetryInterval),
	)

	if !a.offline {
		a.monitor.Probe(ctx)
	}
	return a, nil
}

func (a *app) Close() {
	a.client.Close()
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.logger.Warn("Failed to close NATS", "error", err)
		}
	}
	if err := a.local.Close(); err != nil {
		a.logger.Warn("Failed to close local database", "error", err)
	}
}

func (a *app) online() bool {
	return !a.offline && a.monitor.Online()
}

func (a *app) room() (int64, error) {
	if a.roomID <= 0 {
		return 0, errNoRoom
	}
	return a.roomID, nil
}

// snapshot returns the room refreshed from the server when reachable, and
// the cached copy otherwise.
func (a *app) snapshot(ctx context.Context) (*models.RoomSnapshot, error) {
	roomID, err := a.room()
	if err != nil {
		return nil, err
	}
	if a.online() {
		snap, err := a.client.FetchRoom(ctx, roomID)
		if err == nil {
			return snap, nil
		}
		if api.IsPermanent(err) {
			return nil, err
		}
		a.logger.Warn("Showing cached room", "room_id", roomID, "error", err)
	}
	snap, err := a.client.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.New("room is not cached on this device; connect once to fetch it")
	}
	return snap, nil
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
