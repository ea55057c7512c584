// Package platform is the engine's view of the chat platform: audit log reads
// and the handful of moderation calls remediation needs.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrNotFound is returned when a guild entity no longer exists.
var ErrNotFound = errors.New("not found")

// AuditEntry is a single audit log row with its author resolved.
type AuditEntry struct {
	ID        string
	Action    discordgo.AuditLogAction
	UserID    string
	User      *discordgo.User
	TargetID  string
	CreatedAt time.Time
	Changes   []*discordgo.AuditLogChange
}

// Change returns the before/after values recorded for key.
func (e *AuditEntry) Change(key discordgo.AuditLogChangeKey) (before, after string, ok bool) {
	for _, c := range e.Changes {
		if c == nil || c.Key == nil || *c.Key != key {
			continue
		}
		return stringValue(c.OldValue), stringValue(c.NewValue), true
	}
	return "", "", false
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Platform is implemented by the discordgo adapter and by test fakes.
type Platform interface {
	BotUserID() string
	GuildOwnerID(ctx context.Context, guildID string) (string, error)
	// LatestAuditEntry returns the newest entry for action, or nil when the
	// log has none.
	LatestAuditEntry(ctx context.Context, guildID string, action discordgo.AuditLogAction) (*AuditEntry, error)
	User(ctx context.Context, userID string) (*discordgo.User, error)
	IsMember(ctx context.Context, guildID, userID string) (bool, error)
	// CanModerate reports whether the bot's top role outranks the user's.
	CanModerate(ctx context.Context, guildID, userID string) (bool, error)
	RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error)

	Ban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	CreateRole(ctx context.Context, guildID string, params *discordgo.RoleParams, reason string) (*discordgo.Role, error)
	MoveRole(ctx context.Context, guildID, roleID string, position int) error
	AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
	DeleteChannel(ctx context.Context, channelID, reason string) error
	GuildWebhooks(ctx context.Context, guildID string) ([]*discordgo.Webhook, error)
	DeleteWebhook(ctx context.Context, webhookID, reason string) error
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
}

// TopRolePosition is the highest position among roleIDs, 0 for @everyone only.
func TopRolePosition(roles []*discordgo.Role, roleIDs []string) int {
	positions := make(map[string]int, len(roles))
	for _, r := range roles {
		positions[r.ID] = r.Position
	}
	top := 0
	for _, id := range roleIDs {
		if p, ok := positions[id]; ok && p > top {
			top = p
		}
	}
	return top
}
