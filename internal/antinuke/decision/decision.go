// Package decision turns an attributed event into a verdict.
package decision

import (
	"context"
	"errors"
	"fmt"

	"discord-antinuke-bot/internal/metrics"
	"discord-antinuke-bot/internal/models"
)

// ErrHierarchyBlocked is attached to LogUnresolved when the bot cannot act
// on the principal.
var ErrHierarchyBlocked = errors.New("hierarchy")

type Verdict int

const (
	Ignore Verdict = iota
	LogWhitelisted
	Remediate
	// LogUnresolved means the threshold was crossed but remediation is
	// known to be impossible.
	LogUnresolved
	Kick
)

func (v Verdict) String() string {
	switch v {
	case Ignore:
		return "ignore"
	case LogWhitelisted:
		return "log_whitelisted"
	case Remediate:
		return "remediate"
	case LogUnresolved:
		return "log_unresolved"
	case Kick:
		return "kick"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Operators is the read-only process-wide operator list.
type Operators interface {
	IsOperator(userID string) bool
}

// Counter is the subset of the rate counter the decider needs.
type Counter interface {
	Incr(ctx context.Context, action models.ActionKind, guildID, principalID string) (int64, error)
}

// Guard reports whether the bot can moderate the principal.
type Guard interface {
	CanModerate(ctx context.Context, guildID, userID string) (bool, error)
}

// Passports looks up bot-join allowances.
type Passports interface {
	Lookup(ctx context.Context, guildID, userID string) (*models.Passport, bool, error)
}

type Input struct {
	GuildID     string
	OwnerID     string
	Action      models.ActionKind
	PrincipalID string
	Settings    *models.GuildSettings
}

type Decision struct {
	Verdict Verdict
	// Count is the counter value after increment, 0 when not counted.
	Count int64
	Err   error
}

type Decider struct {
	botID     func() string
	siblings  models.IDSet
	operators Operators
	counter   Counter
	guard     Guard
	passports Passports
}

func New(botID func() string, siblings models.IDSet, operators Operators, counter Counter, passports Passports) *Decider {
	if operators == nil {
		operators = models.IDSet{}
	}
	return &Decider{
		botID:     botID,
		siblings:  siblings,
		operators: operators,
		counter:   counter,
		passports: passports,
	}
}

// WithGuard makes threshold crossings against unmoderatable principals
// resolve to LogUnresolved instead of Remediate.
func (d *Decider) WithGuard(g Guard) *Decider {
	d.guard = g
	return d
}

// IsOperator exposes the operator capability to the remediator and commands.
func (d *Decider) IsOperator(userID string) bool {
	return d.operators.IsOperator(userID)
}

func (d *Decider) isBot(userID string) bool {
	return userID == d.botID() || d.siblings.Contains(userID)
}

// Decide never increments the counter for whitelisted or ignored principals.
func (d *Decider) Decide(ctx context.Context, in Input) (Decision, error) {
	dec, err := d.decide(ctx, in)
	if err != nil {
		return dec, err
	}
	metrics.Decisions.WithLabelValues(string(in.Action), dec.Verdict.String()).Inc()
	return dec, nil
}

func (d *Decider) decide(ctx context.Context, in Input) (Decision, error) {
	if !in.Settings.Enabled(in.Action) {
		return Decision{Verdict: Ignore}, nil
	}
	if in.PrincipalID == "" || d.isBot(in.PrincipalID) {
		return Decision{Verdict: Ignore}, nil
	}
	if in.PrincipalID == in.OwnerID || d.operators.IsOperator(in.PrincipalID) || in.Settings.IsTrusted(in.PrincipalID) {
		return Decision{Verdict: LogWhitelisted}, nil
	}

	var n int64
	if in.Action.IsThresholdAction() {
		var err error
		n, err = d.counter.Incr(ctx, in.Action, in.GuildID, in.PrincipalID)
		if err != nil {
			return Decision{}, fmt.Errorf("increment %s counter: %w", in.Action, err)
		}
		if n < int64(in.Settings.Threshold(in.Action)) {
			return Decision{Verdict: Ignore, Count: n}, nil
		}
	}

	// webhooks are not members and have no place in the role hierarchy
	if d.guard != nil && in.Action != models.ActionWebhookMention {
		ok, err := d.guard.CanModerate(ctx, in.GuildID, in.PrincipalID)
		if err != nil {
			return Decision{}, fmt.Errorf("check hierarchy: %w", err)
		}
		if !ok {
			return Decision{Verdict: LogUnresolved, Count: n, Err: ErrHierarchyBlocked}, nil
		}
	}
	return Decision{Verdict: Remediate, Count: n}, nil
}

// DecideBotJoin returns Kick iff a bot joined a protected guild without a
// passport.
func (d *Decider) DecideBotJoin(ctx context.Context, settings *models.GuildSettings, guildID, userID string, isBot bool) (Decision, error) {
	if !isBot || !settings.Enabled(models.ActionBotAdd) || d.isBot(userID) {
		return Decision{Verdict: Ignore}, nil
	}
	_, ok, err := d.passports.Lookup(ctx, guildID, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup passport: %w", err)
	}
	verdict := Kick
	if ok {
		verdict = Ignore
	}
	metrics.Decisions.WithLabelValues(string(models.ActionBotAdd), verdict.String()).Inc()
	return Decision{Verdict: verdict}, nil
}
