package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"
)

// SnapshotTTL bounds how long a deleted role can still be rebuilt.
const SnapshotTTL = 5 * time.Minute

// ErrSnapshotMissing means no fresh snapshot exists for the role.
var ErrSnapshotMissing = errors.New("role snapshot missing")

// RoleCache stores role snapshots in the shared store.
type RoleCache struct {
	kv  *redis.Client
	ttl time.Duration
}

func NewRoleCache(kv *redis.Client) *RoleCache {
	return &RoleCache{kv: kv, ttl: SnapshotTTL}
}

// SnapshotRole captures role attributes and the given roster.
func SnapshotRole(role *discordgo.Role, members []string) *models.RoleSnapshot {
	if members == nil {
		members = []string{}
	}
	return &models.RoleSnapshot{
		ID:          role.ID,
		Name:        role.Name,
		Color:       role.Color,
		Permissions: role.Permissions,
		Position:    role.Position,
		Hoist:       role.Hoist,
		Mentionable: role.Mentionable,
		Members:     members,
	}
}

func (c *RoleCache) Store(ctx context.Context, snap *models.RoleSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal role snapshot: %w", err)
	}
	return c.kv.Set(ctx, redis.RoleSnapshotKey(snap.ID), payload, c.ttl)
}

// Load returns ErrSnapshotMissing when the TTL elapsed or no snapshot was taken.
func (c *RoleCache) Load(ctx context.Context, roleID string) (*models.RoleSnapshot, error) {
	payload, ok, err := c.kv.GetBytes(ctx, redis.RoleSnapshotKey(roleID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSnapshotMissing
	}

	var snap models.RoleSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal role snapshot: %w", err)
	}
	return &snap, nil
}
