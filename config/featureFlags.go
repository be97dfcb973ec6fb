package config

import (
	"errors"
	"os"
	"strings"
)

// EnvBool reads a yes/no style flag; unset or unrecognised values return def.
func EnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// InProcessAutoRelease runs the auto-release sweeper inside the API process.
// Disable it when the cron job (cmd/auto-release-tick) owns the sweep.
//
// Set via env:
// - AUTO_RELEASE_IN_PROCESS=true
func InProcessAutoRelease() bool {
	return EnvBool("AUTO_RELEASE_IN_PROCESS", true)
}

// OutboxDispatcherEnabled controls the post-commit Pub/Sub publisher.
//
// Set via env:
// - OUTBOX_DISPATCHER_ENABLED=false to stop publishing (rows keep accumulating as PENDING).
func OutboxDispatcherEnabled() bool {
	return EnvBool("OUTBOX_DISPATCHER_ENABLED", true)
}

// SkipMigrations disables AutoMigrate on startup; run migrations as a separate job instead.
func SkipMigrations() bool {
	return EnvBool("SKIP_MIGRATIONS", false)
}

// PubSubPushToken is the shared secret Pub/Sub push subscriptions append as ?token=.
// Production refuses to start without it.
func PubSubPushToken() (string, error) {
	token := strings.TrimSpace(os.Getenv("PUBSUB_PUSH_TOKEN"))
	if token == "" && IsProduction() {
		return "", errors.New("PUBSUB_PUSH_TOKEN is required in production")
	}
	return token, nil
}

func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}
