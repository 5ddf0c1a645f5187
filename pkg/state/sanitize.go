package state

import (
	"strings"
)

// sensitiveKeyPatterns marks env keys whose values never reach state.json
// or any display surface. Stack profiles routinely carry database
// passwords and token signing keys.
var sensitiveKeyPatterns = []string{
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"KEY",
	"CREDENTIAL",
	"AUTH",
	"PRIVATE",
	"CERT",
	"PASSPHRASE",
	"DSN",
}

const redactedValue = "[REDACTED]"

// SanitizeEnv returns a copy of the environment map with sensitive values
// redacted.
func SanitizeEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}

	result := make(map[string]string, len(env))
	for k, v := range env {
		if isSensitiveKey(k) {
			result[k] = redactedValue
		} else {
			result[k] = v
		}
	}
	return result
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
