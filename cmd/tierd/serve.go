package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tierd-ai/tierd/pkg/acl"
	"github.com/tierd-ai/tierd/pkg/arbiter"
	"github.com/tierd-ai/tierd/pkg/audit"
	"github.com/tierd-ai/tierd/pkg/budget"
	"github.com/tierd-ai/tierd/pkg/config"
	"github.com/tierd-ai/tierd/pkg/engine"
	"github.com/tierd-ai/tierd/pkg/health"
	"github.com/tierd-ai/tierd/pkg/history"
	"github.com/tierd-ai/tierd/pkg/lock"
	"github.com/tierd-ai/tierd/pkg/provider"
	"github.com/tierd-ai/tierd/pkg/selector"
	"github.com/tierd-ai/tierd/pkg/server"
	"github.com/tierd-ai/tierd/pkg/stats"
)

// components holds everything built from one config snapshot.
type components struct {
	cfg      *config.Config
	acl      *acl.Checker
	arbiter  *arbiter.Arbiter
	budget   *budget.Limiter
	engine   *engine.Engine
	registry *provider.Registry
	selector *selector.Selector
	locks    *lock.Store
	stats    *stats.Recorder
	health   *health.Checker
	breaker  *selector.Breaker
}

func buildComponents(cfg *config.Config) *components {
	registry := provider.NewRegistry(cfg.Providers)
	recorder := stats.New(cfg.Stats.Enabled, cfg.Stats.MaxRecords)
	locks := lock.New(cfg.Locks)
	breaker := selector.NewBreaker()
	sel := selector.New(cfg, locks, breaker)
	arb := arbiter.New(cfg, registry, recorder)
	checker := acl.New(cfg.ACL)
	lim := budget.New(cfg)
	eng := engine.New(cfg, checker, arb, lim, sel, recorder)

	return &components{
		cfg:      cfg,
		acl:      checker,
		arbiter:  arb,
		budget:   lim,
		engine:   eng,
		registry: registry,
		selector: sel,
		locks:    locks,
		stats:    recorder,
		health:   health.New(cfg, registry, breaker),
		breaker:  breaker,
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	for _, w := range warnings {
		log.Printf("config warning: %s", w)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tier routing server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			c := buildComponents(cfg)

			var store history.Store
			if cfg.History.Enabled {
				s, err := history.New(cfg.History)
				if err != nil {
					return fmt.Errorf("init history store: %w", err)
				}
				defer func() { _ = s.Close() }()
				store = s
			}

			var auditor *audit.Logger
			if cfg.Audit.Enabled {
				auditor, err = audit.New(cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit log: %w", err)
				}
				defer func() { _ = auditor.Close() }()
			}

			srv := server.New(server.Deps{
				Config:   c.cfg,
				ACL:      c.acl,
				Arbiter:  c.arbiter,
				Budget:   c.budget,
				Engine:   c.engine,
				Registry: c.registry,
				Selector: c.selector,
				Locks:    c.locks,
				Stats:    c.stats,
				Health:   c.health,
				History:  store,
				Auditor:  auditor,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("starting tierd with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "tierd.yaml", "path to config file")
	return cmd
}
