package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"lostack/internal/registry"

	"github.com/go-pg/pg/v10"
	"github.com/redis/go-redis/v9"
)

var _ registry.Finder = (*Repository)(nil)

type Repository struct {
	db    *pg.DB
	redis redis.Cmdable
}

func NewRepository(db *pg.DB, redis redis.Cmdable) *Repository {
	return &Repository{
		db:    db,
		redis: redis,
	}
}

func (r *Repository) FindByServiceName(ctx context.Context, name string) (*registry.Target, error) {
	if r.redis != nil {
		key := targetCacheKey(name)
		val, err := r.redis.Get(ctx, key).Result()
		if err == nil {
			var cached cacheTarget
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return cachedToTarget(&cached), nil
			}
		}
	}

	model := &TargetModel{Name: name}
	err := r.db.Model(model).WherePK().Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, registry.ErrTargetNotFound
	}
	if err != nil {
		return nil, err
	}

	if r.redis != nil {
		cached := &cacheTarget{
			Name:             model.Name,
			AllowedGroups:    registry.SplitNames(model.AllowedGroups),
			ContainerNames:   registry.SplitNames(model.ContainerNames),
			AutostartEnabled: model.AutostartEnabled,
			SessionDuration:  model.SessionDuration,
			RefreshInterval:  model.RefreshInterval,
		}
		if b, err := json.Marshal(cached); err == nil {
			_ = r.redis.Set(ctx, targetCacheKey(name), b, targetCacheTTL).Err()
		}
	}

	return modelToTarget(model), nil
}

func (r *Repository) Upsert(ctx context.Context, model *TargetModel) error {
	_, err := r.db.Model(model).
		OnConflict("(name) DO UPDATE").
		Set("allowed_groups = EXCLUDED.allowed_groups").
		Set("container_names = EXCLUDED.container_names").
		Set("autostart_enabled = EXCLUDED.autostart_enabled").
		Set("session_duration = EXCLUDED.session_duration").
		Set("refresh_interval = EXCLUDED.refresh_interval").
		Insert()
	if err != nil {
		return err
	}

	// 缓存失效
	if r.redis != nil {
		_ = r.redis.Del(ctx, targetCacheKey(model.Name)).Err()
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, name string) error {
	_, err := r.db.Model(&TargetModel{Name: name}).WherePK().Delete()
	if err != nil {
		return err
	}

	if r.redis != nil {
		_ = r.redis.Del(ctx, targetCacheKey(name)).Err()
	}

	return nil
}

func (r *Repository) List(ctx context.Context) ([]*registry.Target, error) {
	var models []TargetModel
	err := r.db.Model(&models).Order("name ASC").Select()
	if err != nil {
		return nil, err
	}

	targets := make([]*registry.Target, 0, len(models))
	for i := range models {
		targets = append(targets, modelToTarget(&models[i]))
	}
	return targets, nil
}

func modelToTarget(m *TargetModel) *registry.Target {
	return &registry.Target{
		Name:             m.Name,
		AllowedGroups:    registry.SplitNames(m.AllowedGroups),
		ContainerNames:   registry.SplitNames(m.ContainerNames),
		AutostartEnabled: m.AutostartEnabled,
		SessionDuration:  parseDurationOr(m.SessionDuration, time.Hour),
		RefreshInterval:  parseDurationOr(m.RefreshInterval, time.Second),
	}
}

func cachedToTarget(c *cacheTarget) *registry.Target {
	return &registry.Target{
		Name:             c.Name,
		AllowedGroups:    c.AllowedGroups,
		ContainerNames:   c.ContainerNames,
		AutostartEnabled: c.AutostartEnabled,
		SessionDuration:  parseDurationOr(c.SessionDuration, time.Hour),
		RefreshInterval:  parseDurationOr(c.RefreshInterval, time.Second),
	}
}

func parseDurationOr(s string, defaultVal time.Duration) time.Duration {
	d, err := registry.ParseDuration(s)
	if err != nil || d == 0 {
		return defaultVal
	}
	return d
}
