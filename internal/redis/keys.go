package redis

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// VanityEventsChannel is the pub/sub topic the vanity worker listens on.
const VanityEventsChannel = "vanity_anti_events"

// fingerprint hashes the concatenation of parts into a fixed-width hex digest.
func fingerprint(parts ...string) string {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

func RateCounterKey(action, guildID, principalID string) string {
	return "antinuke_" + action + ":" + fingerprint(guildID, principalID)
}

func RoleSnapshotKey(roleID string) string {
	return "antinuke_cachedrole:" + fingerprint(roleID)
}

func PassportKey(guildID, userID string) string {
	return "antinuke_passport:" + fingerprint(userID, guildID)
}

func VanityEventKey(guildID, principalID, before, after string, createdAt int64) string {
	return "an_vanity_event:" + fingerprint(guildID, principalID, before, after, strconv.FormatInt(createdAt, 10))
}

func EmojiEventKey(entryID string) string {
	return "antinuke_emoji_event:" + fingerprint(entryID)
}

// RoleCreateSidecarKey is written by the role command layer before the bot
// creates a role on someone's behalf.
func RoleCreateSidecarKey(roleID string) string {
	return "role_create:" + roleID
}

func RoleDeleteSidecarKey(roleID string) string {
	return "role_delete:" + roleID
}

// VanitySuppressionKey marks a principal whose vanity changes are ignored.
func VanitySuppressionKey(principalID string) string {
	return "antinuke_tessa:" + principalID
}
