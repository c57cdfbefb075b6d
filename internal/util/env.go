// Package util provides small helpers shared across CoachPipe components.
package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix namespaces every CoachPipe environment variable.
const EnvPrefix = "COACHPIPE_"

// EnvFlag reads the switch COACHPIPE_<name>. Besides the strconv.ParseBool forms it
// accepts yes/no and on/off. Unset or unreadable values yield def.
func EnvFlag(name string, def bool) bool {
	key := EnvPrefix + name
	raw, ok := os.LookupEnv(key)
	v := strings.ToLower(strings.TrimSpace(raw))
	if !ok || v == "" {
		return def
	}
	switch v {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("util.EnvFlag: ignoring invalid value", "key", key, "value", raw, "default", def)
		return def
	}
	return b
}

// DeviceLocale maps POSIX locale variables such as "de_DE.UTF-8" to the
// device_locale form "de_DE". The C and POSIX locales fall through to en_US.
func DeviceLocale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		if v != "" {
			return v
		}
	}
	return "en_US"
}
