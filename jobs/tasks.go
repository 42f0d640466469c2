package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/marcoraddatz/entrust/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeCacheWarmup re-resolves an entity's snapshots after its
	// cached entries were invalidated, so the next foreground read is
	// warm.
	TaskTypeCacheWarmup = "cache:warmup"
)

// CacheWarmupPayload identifies the entity whose snapshots to rebuild.
type CacheWarmupPayload struct {
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
	RequestID  string `json:"request_id"`
}

// NewCacheWarmupTask constructs an Asynq task.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeCacheWarmup, data), nil
}

// WarmupTarget resolves snapshots through the cache, repopulating it.
type WarmupTarget interface {
	RolesFor(ctx context.Context, userID int64) ([]rbac.Role, error)
	PermissionsFor(ctx context.Context, roleID int64) ([]rbac.Permission, error)
}

// NewCacheWarmupHandler builds the handler processing warm-up tasks.
func NewCacheWarmupHandler(target WarmupTarget, cfg rbac.Config, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload CacheWarmupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		log := logger.With(
			slog.String("entity", payload.EntityType),
			slog.Int64("id", payload.EntityID),
			slog.String("request_id", payload.RequestID),
		)
		switch payload.EntityType {
		case cfg.PrincipalEntity:
			if _, err := target.RolesFor(ctx, payload.EntityID); err != nil {
				log.Warn("warmup roles", slog.Any("error", err))
				return err
			}
		case cfg.RoleEntity:
			if _, err := target.PermissionsFor(ctx, payload.EntityID); err != nil {
				log.Warn("warmup permissions", slog.Any("error", err))
				return err
			}
		default:
			// Permission mutations warm through their owning roles on the
			// next read; nothing to rebuild directly.
			return nil
		}
		log.Info("cache warmed")
		return nil
	}
}
