package cmd

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/takutakahashi/portalgate/pkg/client"
	"github.com/takutakahashi/portalgate/pkg/config"
	"github.com/takutakahashi/portalgate/pkg/routing"
	"github.com/takutakahashi/portalgate/pkg/session"
	"github.com/takutakahashi/portalgate/pkg/tokenstore"
	"github.com/takutakahashi/portalgate/pkg/userdir"
)

// runtime is the wired session stack a command works with
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      tokenstore.Store
	client     *client.Client
	controller *session.Controller
	table      *routing.Table
	registry   *prometheus.Registry

	mu     sync.Mutex
	landed string
}

func (o *rootOptions) runtime(cmd *cobra.Command) (*runtime, error) {
	cfg, log, err := o.load(cmd)
	if err != nil {
		return nil, err
	}

	storeCfg := cfg.TokenStore
	storeCfg.Logger = log
	if storeCfg.Type != "" && storeCfg.Type != "memory" {
		dir, err := userdir.NewManager("").EnsureProfileDir(cfg.Profile)
		if err != nil {
			return nil, err
		}
		storeCfg.Dir = dir
	}

	store, err := tokenstore.NewStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics, err := client.NewMetrics(registry)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	table := routing.DefaultTable()
	if cfg.RoutesFile != "" {
		if table, err = routing.LoadTableFile(cfg.RoutesFile); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   log,
		store:    store,
		table:    table,
		registry: registry,
	}
	rt.client = client.NewClient(cfg.BaseURL,
		client.WithStore(store),
		client.WithEndpoints(cfg.Endpoints),
		client.WithLogger(log),
		client.WithMetrics(metrics),
		client.WithTimeout(cfg.Timeout),
	)
	rt.controller = session.NewController(rt.client, store,
		session.WithLogger(log),
		session.WithNavigator(session.NavigatorFunc(rt.navigate)),
	)
	rt.client.OnSessionExpired(rt.controller.Expire)

	return rt, nil
}

func (rt *runtime) navigate(path string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.landed = path
	rt.logger.Debug("navigate", "path", path)
}

// lastNavigation returns the route the controller last sent the user to
func (rt *runtime) lastNavigation() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.landed
}

// close logs the refresh counters and releases the token store
func (rt *runtime) close() {
	families, err := rt.registry.Gather()
	if err != nil {
		rt.logger.Debug("failed to gather metrics", "error", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []any{"metric", mf.GetName(), "value", m.GetCounter().GetValue()}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, lp.GetName(), lp.GetValue())
			}
			rt.logger.Debug("client metric", attrs...)
		}
	}

	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("failed to close token store", "error", err)
	}
}
