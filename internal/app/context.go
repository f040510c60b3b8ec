package app

import (
	"context"
	"fmt"
	"log/slog"

	"tasktrail/internal/config"
	"tasktrail/internal/engine"
)

// SeedActors creates the configured bootstrap actors that do not exist yet.
// Existing actors keep their password and role. It returns how many were created.
func SeedActors(ctx context.Context, eng engine.Engine, cfg *config.Config, log *slog.Logger) (int, error) {
	if cfg == nil || !cfg.Bootstrap.Enabled {
		return 0, nil
	}
	if log == nil {
		log = slog.Default()
	}
	created := 0
	for _, a := range cfg.Bootstrap.Actors {
		actor, isNew, err := eng.EnsureActor(ctx, a.Email, cfg.Bootstrap.Password, a.Role)
		if err != nil {
			return created, fmt.Errorf("seed actor %s: %w", a.Email, err)
		}
		if !isNew {
			log.Debug("bootstrap actor exists", "email", actor.Email, "role", actor.Role)
			continue
		}
		created++
		log.Info("bootstrap actor created", "email", actor.Email, "role", actor.Role, "id", actor.ID)
	}
	return created, nil
}
