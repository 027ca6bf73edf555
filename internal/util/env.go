package util

import (
	"log/slog"
	"os"
	"strings"
)

// BoolEnv reads a boolean environment variable. Unset variables yield the
// fallback; recognized spellings are true/false, 1/0, yes/no and on/off in
// any case. Anything else is logged and yields the fallback too.
func BoolEnv(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("BoolEnv: unrecognized value, keeping fallback", "key", key, "value", raw, "fallback", fallback)
	return fallback
}
