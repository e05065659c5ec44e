package cli

import (
	"context"
	"time"

	"github.com/soyeahso/loom/internal/compile"
	"github.com/soyeahso/loom/internal/config"
	"github.com/soyeahso/loom/internal/dispatch"
	"github.com/soyeahso/loom/internal/registry"
	"github.com/soyeahso/loom/internal/resolve"
)

// loadConfigOrDefaults reads the config file, falling back to defaults when
// it does not exist yet.
func loadConfigOrDefaults() config.Config {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return config.Defaults()
	}
	return cfg
}

// openStore builds the registry store selected by config. The returned DB is
// nil for the JSON backend; when non-nil the caller owns closing it.
func openStore(cfg config.Config) (registry.Store, *registry.DB, error) {
	if cfg.Registry.Backend == "sqlite" {
		db, err := registry.Open(paths.RegistryDB(), log)
		if err != nil {
			return nil, nil, err
		}
		return registry.NewSQLiteStore(db), db, nil
	}
	return registry.NewJSONStore(paths.Registry), nil, nil
}

// newFrontend wires the resolver, compiler, and registry manager over the
// given store.
func newFrontend(store registry.Store) (*resolve.Resolver, *compile.Compiler, *registry.Manager) {
	resolver := resolve.New(store, paths.TempAgents, log)
	compiler := compile.New(resolver, log)
	manager := registry.NewManager(store, paths.Agents, paths.TempAgents, log)
	return resolver, compiler, manager
}

// newDispatcher builds the step dispatcher from config. Steps that carry no
// model of their own run under workflow.defaultModel.
func newDispatcher(cfg config.Config) compile.Dispatcher {
	base := dispatch.NewCommandDispatcher(dispatch.Config{
		Command: cfg.Dispatch.Command,
		Args:    cfg.Dispatch.Args,
		Timeout: time.Duration(cfg.Workflow.StepTimeoutSeconds) * time.Second,
	}, log)

	defaultModel := cfg.Workflow.DefaultModel
	return compile.DispatchFunc(func(ctx context.Context, step compile.Step, instruction string) (string, error) {
		if step.Model == "" {
			step.Model = defaultModel
		}
		return base.Dispatch(ctx, step, instruction)
	})
}
