// Package eventlog renders enforcement outcomes into the guild log channel.
package eventlog

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"discord-antinuke-bot/internal/antinuke/platform"
	"discord-antinuke-bot/internal/metrics"
	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Embed colors
const (
	ColorResolved   = 0x57f287
	ColorUnresolved = 0xed4245
	ColorAuthorized = 0x5865f2
)

const contentLimit = 400

type Outcome int

const (
	Success Outcome = iota
	Failed
	Whitelisted
)

// Verb is the title suffix for the outcome.
func (o Outcome) Verb() string {
	switch o {
	case Failed:
		return "Unresolved"
	case Whitelisted:
		return "Authorized"
	default:
		return "Resolved"
	}
}

func (o Outcome) String() string { return o.Verb() }

func (o Outcome) Color() int {
	switch o {
	case Failed:
		return ColorUnresolved
	case Whitelisted:
		return ColorAuthorized
	default:
		return ColorResolved
	}
}

// Field is one ordered name/value pair.
type Field struct {
	Name  string
	Value string
}

type Record struct {
	Action  models.ActionKind
	Outcome Outcome
	User    *discordgo.User
	// Err is shown as the first field when set.
	Err       error
	ErrText   string
	Extras    []Field
	Timestamp time.Time
}

// Emitter delivers records; delivery failures never affect enforcement.
type Emitter struct {
	platform platform.Platform
	logger   *zap.Logger
}

func New(p platform.Platform, logger *zap.Logger) *Emitter {
	return &Emitter{platform: p, logger: logger.Named("eventlog")}
}

// Build renders rec into an embed.
func Build(rec Record) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: rec.Action.LogActionType() + " " + rec.Outcome.Verb(),
		Color: rec.Outcome.Color(),
	}

	errText := rec.ErrText
	if errText == "" && rec.Err != nil {
		errText = rec.Err.Error()
	}
	if errText != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "error", Value: shorten(errText, 1024)})
	}
	for _, f := range rec.Extras {
		value := f.Value
		if value == "" {
			value = "Unknown"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: value, Inline: true})
	}
	if rec.User != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "User",
			Value: fmt.Sprintf("%s (%s)", UserTag(rec.User), rec.User.ID),
		})
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	embed.Timestamp = ts.UTC().Format(time.RFC3339)
	return embed
}

// Emit sends rec to the log channel in settings. A missing channel is a
// warning, not an error.
func (e *Emitter) Emit(ctx context.Context, settings *models.GuildSettings, rec Record) {
	if settings == nil || settings.LogChannelID == "" {
		e.logger.Warn("no log channel configured",
			zap.String("action", string(rec.Action)),
			zap.String("outcome", rec.Outcome.Verb()),
		)
		return
	}

	if err := e.platform.SendEmbed(ctx, settings.LogChannelID, Build(rec)); err != nil {
		metrics.LogEmitFailures.Inc()
		e.logger.Warn("log channel unavailable",
			zap.String("guild_id", settings.GuildID),
			zap.String("channel_id", settings.LogChannelID),
			zap.Error(err),
		)
	}
}

// UserTag renders a user the way the client shows them.
func UserTag(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

// Content prepares message content for an embed field.
func Content(s string) string {
	return shorten(s, contentLimit)
}

// shorten collapses whitespace and truncates to width with a " [...]" marker.
func shorten(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= width {
		return s
	}
	const marker = " [...]"
	cut := s[:width-len(marker)+1]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	} else {
		cut = cut[:width-len(marker)]
		for !utf8.ValidString(cut) {
			cut = cut[:len(cut)-1]
		}
	}
	return strings.TrimRight(cut, " ") + marker
}
