package internal

import (
	"os"
	"strings"
)

// Defaults used when neither a flag nor an environment variable is given.
const (
	DefaultSignalURL = "ws://localhost:8080/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultCodec     = "json"
	DefaultLogLevel  = "info"
)

// envOr returns the environment value of key, or def when unset or empty.
func envOr(key, def string) string {
	if v := os.Getenv(key); len(v) != 0 {
		return v
	}

	return def
}

// envList splits a comma separated environment value.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if len(v) == 0 {
		return def
	}

	var out []string

	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); len(item) != 0 {
			out = append(out, item)
		}
	}

	return out
}
