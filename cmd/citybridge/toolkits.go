package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/city-bridge/internal/bridge"
	"github.com/nugget/city-bridge/internal/config"
	"github.com/nugget/city-bridge/internal/toolkit"
	"github.com/nugget/city-bridge/internal/tools"
)

// fleet is the set of toolkits built from a config, with the registry
// they populated.
type fleet struct {
	registry *tools.Registry
	kits     []toolkit.Toolkit
	bridges  []*bridge.Bridge
	logger   *slog.Logger
}

// buildFleet creates one toolkit per configured server (all of them
// when only is empty) and registers their tools. Each toolkit gets its
// own bridge so calls to different servers do not queue behind one
// another. A server whose tools cannot be registered is logged and
// left out; it is an error only when it was asked for by name.
func buildFleet(ctx context.Context, cfg *config.Config, only string, observers []toolkit.Observer, logger *slog.Logger) (*fleet, error) {
	f := &fleet{registry: tools.NewRegistry(), logger: logger}

	for _, sc := range cfg.Servers {
		if only != "" && sc.Name != only {
			continue
		}

		br := bridge.New(bridge.Config{Name: sc.Name, QueueSize: cfg.Bridge.QueueSize, Logger: logger})
		kit, err := toolkit.New(sc, toolkit.Config{
			Bridge:    br,
			Observers: observers,
			Logger:    logger,
		})
		if err != nil {
			br.Close()
			f.Close()
			return nil, err
		}
		f.bridges = append(f.bridges, br)
		f.kits = append(f.kits, kit)

		if _, err := kit.Register(ctx, f.registry); err != nil {
			if only != "" {
				f.Close()
				return nil, fmt.Errorf("register %s: %w", sc.Name, err)
			}
			logger.Warn("toolkit registration failed", "server", sc.Name, "error", err)
		}
	}

	if only != "" && len(f.kits) == 0 {
		return nil, fmt.Errorf("no server named %q in config", only)
	}
	return f, nil
}

// names returns the toolkit names in config order.
func (f *fleet) names() []string {
	out := make([]string, len(f.kits))
	for i, k := range f.kits {
		out[i] = k.Name()
	}
	return out
}

// Close stops every server process and bridge.
func (f *fleet) Close() {
	var errs []error
	for _, k := range f.kits {
		errs = append(errs, k.Close())
	}
	for _, b := range f.bridges {
		b.Close()
	}
	if err := errors.Join(errs...); err != nil {
		f.logger.Debug("closing toolkits", "error", err)
	}
}
