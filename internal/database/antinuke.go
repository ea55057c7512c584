package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"discord-antinuke-bot/internal/models"

	"github.com/lib/pq"
)

// AntiNuke Settings Operations

// GetGuildSettings loads the full settings row, its thresholds and trusted
// admins. A guild without a row gets the all-off defaults.
func (d *Database) GetGuildSettings(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	settings := models.DefaultGuildSettings(guildID)

	err := d.db.QueryRowContext(ctx, `
		SELECT log_channel_id, vanity_an, bot_an, mention_webhook, created_at, updated_at
		FROM antinuke_settings
		WHERE guild_id = $1
	`, guildID).Scan(
		&settings.LogChannelID, &settings.VanityProtectionOn, &settings.BotJoinProtectionOn,
		&settings.WebhookMentionProtectionOn, &settings.CreatedAt, &settings.UpdatedAt,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query antinuke_settings: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT action_type, threshold FROM antinuke_thresholds WHERE guild_id = $1
	`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query antinuke_thresholds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var threshold int
		if err := rows.Scan(&action, &threshold); err != nil {
			return nil, err
		}
		if kind, ok := models.ParseActionKind(action); ok {
			settings.Thresholds[kind] = threshold
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trusted, err := d.GetTrustedAdmins(ctx, guildID)
	if err != nil {
		return nil, err
	}
	settings.TrustedAdmins = trusted

	return settings, nil
}

// ensureSettingsRow creates the guild row on first configuration.
func (d *Database) ensureSettingsRow(ctx context.Context, guildID string, now int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO antinuke_settings (guild_id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (guild_id) DO NOTHING
	`, guildID, now)
	return err
}

// SetLogChannel sets or clears (empty channelID) the log channel
func (d *Database) SetLogChannel(ctx context.Context, guildID, channelID string) error {
	now := time.Now().Unix()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO antinuke_settings (guild_id, log_channel_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (guild_id) DO UPDATE
		SET log_channel_id = EXCLUDED.log_channel_id, updated_at = EXCLUDED.updated_at
	`, guildID, channelID, now)
	return err
}

// protectionColumns maps toggleable actions to their column.
var protectionColumns = map[models.ActionKind]string{
	models.ActionVanity:         "vanity_an",
	models.ActionBotAdd:         "bot_an",
	models.ActionWebhookMention: "mention_webhook",
}

// SetProtection toggles vanity, bot-join or webhook-mention protection.
func (d *Database) SetProtection(ctx context.Context, guildID string, action models.ActionKind, enabled bool) error {
	column, ok := protectionColumns[action]
	if !ok {
		return fmt.Errorf("action %q has no toggle", action)
	}

	now := time.Now().Unix()
	if err := d.ensureSettingsRow(ctx, guildID, now); err != nil {
		return err
	}

	// column comes from the fixed map above
	_, err := d.db.ExecContext(ctx,
		"UPDATE antinuke_settings SET "+column+" = $1, updated_at = $2 WHERE guild_id = $3",
		enabled, now, guildID)
	return err
}

// SetThreshold upserts the threshold of a counted action. Zero disables it.
func (d *Database) SetThreshold(ctx context.Context, guildID string, action models.ActionKind, threshold int) error {
	if !action.IsThresholdAction() {
		return fmt.Errorf("action %q has no threshold", action)
	}
	if threshold < 0 || threshold > models.MaxThreshold {
		return fmt.Errorf("threshold must be between 0 and %d", models.MaxThreshold)
	}

	now := time.Now().Unix()
	if err := d.ensureSettingsRow(ctx, guildID, now); err != nil {
		return err
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO antinuke_thresholds (guild_id, action_type, threshold, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, action_type) DO UPDATE
		SET threshold = EXCLUDED.threshold, updated_at = EXCLUDED.updated_at
	`, guildID, string(action), threshold, now)
	return err
}

// AntiNuke Trusted Admin Operations

// GetTrustedAdmins lists trusted admins, oldest first
func (d *Database) GetTrustedAdmins(ctx context.Context, guildID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id FROM antinuke_trusted
		WHERE guild_id = $1
		ORDER BY created_at ASC
	`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query antinuke_trusted: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ToggleTrustedAdmin adds userID if absent, removes it otherwise, and
// reports whether the user is trusted afterwards.
func (d *Database) ToggleTrustedAdmin(ctx context.Context, guildID, userID, addedBy string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM antinuke_trusted WHERE guild_id = $1 AND user_id = $2
	`, guildID, userID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	now := time.Now().Unix()
	if err := d.ensureSettingsRow(ctx, guildID, now); err != nil {
		return false, err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO antinuke_trusted (guild_id, user_id, added_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, user_id) DO NOTHING
	`, guildID, userID, addedBy, now)
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveTrustedAdmins drops several trusted admins at once
func (d *Database) RemoveTrustedAdmins(ctx context.Context, guildID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM antinuke_trusted WHERE guild_id = $1 AND user_id = ANY($2)
	`, guildID, pq.Array(userIDs))
	return err
}
