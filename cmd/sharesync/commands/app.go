package commands

import (
	"fmt"

	"github.com/opencode-ai/sharesync/internal/config"
	"github.com/opencode-ai/sharesync/internal/event"
	"github.com/opencode-ai/sharesync/internal/publisher"
	"github.com/opencode-ai/sharesync/internal/session"
	"github.com/opencode-ai/sharesync/internal/share"
	"github.com/opencode-ai/sharesync/internal/storage"
	"github.com/opencode-ai/sharesync/pkg/types"
)

// app bundles the author-side services every command needs. Commands
// own one instance for their lifetime and close it on the way out,
// which drains the publisher pipeline.
type app struct {
	Config   *types.Config
	Bus      *event.Bus
	Storage  *storage.Storage
	Client   *publisher.Client
	Shares   *share.Service
	Sessions *session.Service
	Pipeline *publisher.Pipeline
}

// newApp wires up storage, the event bus, and the share pipeline. The
// pipeline subscribes before anything can write, so no local write is
// ever missed while a command runs.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.ShareDisabled() {
		return nil, fmt.Errorf("sharing is disabled by configuration")
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	bus := event.NewBus()
	store, err := storage.New(paths.StoragePath(), bus)
	if err != nil {
		bus.Close()
		return nil, err
	}

	client := publisher.NewClient(cfg.API)
	shares := share.NewService(store, client, bus)
	pipeline := publisher.NewPipeline(client, shares)
	shares.SetPipeline(pipeline)
	pipeline.Start(bus)

	return &app{
		Config:   cfg,
		Bus:      bus,
		Storage:  store,
		Client:   client,
		Shares:   shares,
		Sessions: session.NewService(store, bus, Version),
		Pipeline: pipeline,
	}, nil
}

// Close drains the pipeline and releases the bus.
func (a *app) Close() {
	a.Pipeline.Close()
	a.Bus.Close()
}
