package models

import "time"

// ActionKind identifies a protected destructive action. The value doubles as
// the rate counter namespace.
type ActionKind string

const (
	ActionBan            ActionKind = "ban"
	ActionKick           ActionKind = "kick"
	ActionChannel        ActionKind = "channel"
	ActionRole           ActionKind = "role"
	ActionEmoji          ActionKind = "emoji"
	ActionVanity         ActionKind = "vanity"
	ActionWebhookMention ActionKind = "webhook_mention"
	ActionBotAdd         ActionKind = "bot_add"
)

// ThresholdActions are the action kinds governed by a numeric threshold.
var ThresholdActions = []ActionKind{ActionBan, ActionKick, ActionChannel, ActionRole, ActionEmoji}

// MaxThreshold is the operator-facing cap for any threshold.
const MaxThreshold = 10

// LogActionType returns the human title used in log embeds.
func (a ActionKind) LogActionType() string {
	switch a {
	case ActionVanity:
		return "Vanity Change"
	case ActionBan:
		return "Mass ban"
	case ActionChannel:
		return "Channel Create/Delete"
	case ActionRole:
		return "Role Add/Delete"
	case ActionKick:
		return "Mass Kick"
	case ActionEmoji:
		return "Emoji Create/Delete"
	case ActionWebhookMention:
		return "Webhook Mention Spam"
	case ActionBotAdd:
		return "Bot Add"
	default:
		return string(a)
	}
}

// IsThresholdAction reports whether a is counted against a numeric threshold.
func (a ActionKind) IsThresholdAction() bool {
	for _, t := range ThresholdActions {
		if t == a {
			return true
		}
	}
	return false
}

// ParseActionKind maps a command option back to a threshold action.
func ParseActionKind(s string) (ActionKind, bool) {
	for _, t := range ThresholdActions {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// GuildSettings is the per-guild antinuke configuration
type GuildSettings struct {
	GuildID                    string
	LogChannelID               string
	TrustedAdmins              []string
	VanityProtectionOn         bool
	BotJoinProtectionOn        bool
	WebhookMentionProtectionOn bool
	Thresholds                 map[ActionKind]int
	CreatedAt                  int64
	UpdatedAt                  int64
}

// DefaultGuildSettings returns the settings of a guild that never ran a
// configuration command: everything off.
func DefaultGuildSettings(guildID string) *GuildSettings {
	return &GuildSettings{
		GuildID:    guildID,
		Thresholds: make(map[ActionKind]int, len(ThresholdActions)),
	}
}

// Threshold returns the configured count for an action, 0 when disabled.
func (s *GuildSettings) Threshold(a ActionKind) int {
	if s == nil || s.Thresholds == nil {
		return 0
	}
	return s.Thresholds[a]
}

// Enabled reports whether protection for the action is switched on.
func (s *GuildSettings) Enabled(a ActionKind) bool {
	if s == nil {
		return false
	}
	switch a {
	case ActionVanity:
		return s.VanityProtectionOn
	case ActionBotAdd:
		return s.BotJoinProtectionOn
	case ActionWebhookMention:
		return s.WebhookMentionProtectionOn
	default:
		return s.Threshold(a) > 0
	}
}

// IsTrusted reports whether userID is in the trusted admin list.
func (s *GuildSettings) IsTrusted(userID string) bool {
	if s == nil {
		return false
	}
	for _, id := range s.TrustedAdmins {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so cached settings are never mutated in place.
func (s *GuildSettings) Clone() *GuildSettings {
	if s == nil {
		return nil
	}
	c := *s
	c.TrustedAdmins = append([]string(nil), s.TrustedAdmins...)
	c.Thresholds = make(map[ActionKind]int, len(s.Thresholds))
	for k, v := range s.Thresholds {
		c.Thresholds[k] = v
	}
	return &c
}

// RoleSnapshot is the serialized copy of a role and its roster.
type RoleSnapshot struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Color       int      `json:"colour"`
	Permissions int64    `json:"permissions"`
	Position    int      `json:"position"`
	Hoist       bool     `json:"hoist"`
	Mentionable bool     `json:"mentionable"`
	Members     []string `json:"members"`
}

// Passport lets a single bot join a guild without being kicked.
type Passport struct {
	UserID    string `json:"user_id"`
	GuildID   string `json:"guild_id"`
	AuthorID  string `json:"author_id"`
	CreatedAt int64  `json:"created_at"`
}

// VanityReclaimRequest is published on the vanity bus for the external worker.
type VanityReclaimRequest struct {
	GuildID      string  `json:"guild_id"`
	TargetVanity string  `json:"target_vanity"`
	BadVanity    string  `json:"bad_vanity"`
	CreatedAt    float64 `json:"created_at"`
	ConfirmKey   string  `json:"confirm_key"`
	Lock         string  `json:"lock"`
}

// NewVanityReclaimRequest stamps a request with the current time.
func NewVanityReclaimRequest(guildID, target, bad, confirmKey, lock string) *VanityReclaimRequest {
	return &VanityReclaimRequest{
		GuildID:      guildID,
		TargetVanity: target,
		BadVanity:    bad,
		CreatedAt:    float64(time.Now().UnixMilli()) / 1000,
		ConfirmKey:   confirmKey,
		Lock:         lock,
	}
}

// IDSet is an immutable set of snowflakes.
type IDSet map[string]struct{}

// NewIDSet builds a set, ignoring empty ids.
func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Contains reports membership.
func (s IDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// IsOperator lets an IDSet act as the operator capability.
func (s IDSet) IsOperator(userID string) bool {
	return s.Contains(userID)
}
