package app

import (
	"context"
	"errors"
	"fmt"

	"crewline/internal/config"
	"crewline/internal/repo"
)

// ResolveConfig returns the effective dispatch configuration. A crewline.yml
// next to the workspace wins; otherwise the copy persisted in the settings
// table is used, seeded from defaults on first run.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	if cfg, err := config.LoadOptional(workspace); err != nil {
		return nil, err
	} else if cfg != nil {
		if err := r.UpsertSettings(ctx, cfg); err != nil {
			return nil, fmt.Errorf("persist config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := r.GetSettings(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		cfg = config.Default()
		if err := r.UpsertSettings(ctx, cfg); err != nil {
			return nil, fmt.Errorf("seed config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
