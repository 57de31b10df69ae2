package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/dispatch"
	"github.com/cyderes/content-planner/internal/generator"
	"github.com/cyderes/content-planner/internal/generator/providers"
	"github.com/cyderes/content-planner/internal/logger"
	"github.com/cyderes/content-planner/internal/planner"
	"github.com/cyderes/content-planner/internal/scheduling"
	"github.com/cyderes/content-planner/internal/storage"
)

// app is the wired set of services every command works with
type app struct {
	config     *config.Config
	log        *logrus.Logger
	store      storage.Storage
	planner    *planner.Service
	dispatcher *dispatch.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	profile, err := generator.LoadProfile(cfg.Generator.ProfilePath)
	if err != nil {
		return nil, err
	}
	if cfg.Planner.BrandDescription != "" {
		profile.BrandDescription = cfg.Planner.BrandDescription
	}
	provider, err := providers.New(cfg.Generator)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize language model provider: %w", err)
	}

	store, err := storage.NewStorage(cfg.Storage, log.WithField("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	late := scheduling.NewClient(cfg.Scheduling)
	drafter := generator.New(provider, profile, log.WithField("component", "generator"))

	log.WithFields(logrus.Fields{
		"storage":  cfg.Storage.Type,
		"provider": provider.Name(),
	}).Debug("Initialized services")

	return &app{
		config:     cfg,
		log:        log,
		store:      store,
		planner:    planner.NewService(store, drafter, late, cfg.Planner, log.WithField("component", "planner")),
		dispatcher: dispatch.NewService(store, late, log.WithField("component", "dispatch")),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close storage")
	}
}
