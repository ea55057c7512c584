package core

import (
	"context"
	"fmt"
	"time"

	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"github.com/goccy/go-json"
)

// PassportTTL is how long an issued passport stays valid.
const PassportTTL = time.Hour

// PassportStore holds short-lived bot-join allowances.
type PassportStore struct {
	kv  *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewPassportStore(kv *redis.Client) *PassportStore {
	return &PassportStore{kv: kv, ttl: PassportTTL, now: time.Now}
}

// Issue records that authorID allowed userID to join guildID.
func (p *PassportStore) Issue(ctx context.Context, guildID, userID, authorID string) (*models.Passport, error) {
	passport := &models.Passport{
		UserID:    userID,
		GuildID:   guildID,
		AuthorID:  authorID,
		CreatedAt: p.now().Unix(),
	}
	payload, err := json.Marshal(passport)
	if err != nil {
		return nil, err
	}
	if err := p.kv.Set(ctx, redis.PassportKey(guildID, userID), payload, p.ttl); err != nil {
		return nil, fmt.Errorf("store passport: %w", err)
	}
	return passport, nil
}

// Lookup returns the passport for (guild, user) if one is still live.
func (p *PassportStore) Lookup(ctx context.Context, guildID, userID string) (*models.Passport, bool, error) {
	payload, ok, err := p.kv.GetBytes(ctx, redis.PassportKey(guildID, userID))
	if err != nil || !ok {
		return nil, false, err
	}

	var passport models.Passport
	if err := json.Unmarshal(payload, &passport); err != nil {
		return nil, false, fmt.Errorf("unmarshal passport: %w", err)
	}
	return &passport, true, nil
}
