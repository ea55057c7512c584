package core

import (
	"context"
	"fmt"
	"sync"

	"discord-antinuke-bot/internal/models"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SettingsSource is the persistent settings store.
type SettingsSource interface {
	GetGuildSettings(ctx context.Context, guildID string) (*models.GuildSettings, error)
}

// SettingsCache is the in-process projection of guild settings. Entries are
// loaded lazily and only dropped by Refresh; there is no TTL. Returned
// settings must be treated as read-only.
type SettingsCache struct {
	source SettingsSource
	l1     *ristretto.Cache
	group  singleflight.Group
	logger *zap.Logger

	// gens is bumped by Refresh; a load only caches its result if the
	// generation it started under is still current.
	mu   sync.Mutex
	gens map[string]uint64
}

func NewSettingsCache(source SettingsSource, logger *zap.Logger) (*SettingsCache, error) {
	l1, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        100000,
		MaxCost:            10000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create settings cache: %w", err)
	}

	return &SettingsCache{
		source: source,
		l1:     l1,
		logger: logger.Named("settings"),
		gens:   make(map[string]uint64),
	}, nil
}

// Get returns the cached settings, reading through to the store on a miss.
func (c *SettingsCache) Get(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	if val, found := c.l1.Get(guildID); found {
		return val.(*models.GuildSettings), nil
	}
	return c.load(ctx, guildID)
}

func (c *SettingsCache) load(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	val, err, _ := c.group.Do(guildID, func() (interface{}, error) {
		gen := c.generation(guildID)
		settings, err := c.source.GetGuildSettings(ctx, guildID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[guildID] == gen {
			c.l1.Set(guildID, settings, 1)
			c.l1.Wait()
		}
		c.mu.Unlock()
		return settings, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load settings for %s: %w", guildID, err)
	}
	return val.(*models.GuildSettings), nil
}

// Refresh drops the cached entry and reloads it. Every command that mutates
// settings must call it.
func (c *SettingsCache) Refresh(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	c.mu.Lock()
	c.gens[guildID]++
	c.group.Forget(guildID)
	c.l1.Del(guildID)
	c.mu.Unlock()
	return c.load(ctx, guildID)
}

func (c *SettingsCache) generation(guildID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[guildID]
}

// Warm preloads settings for the guilds the session starts with.
func (c *SettingsCache) Warm(ctx context.Context, guildIDs []string) {
	warmed := 0
	for _, guildID := range guildIDs {
		if _, err := c.Get(ctx, guildID); err != nil {
			c.logger.Warn("warm settings failed", zap.String("guild_id", guildID), zap.Error(err))
			continue
		}
		warmed++
	}
	c.logger.Info("settings warmed", zap.Int("guilds", warmed))
}

func (c *SettingsCache) Close() {
	c.l1.Close()
}
