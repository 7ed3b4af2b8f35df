package featureflags

import (
	"os"
	"strings"
)

// AdminCancel lets administrators cancel reservations they did not make
const AdminCancel = "admin_cancel"

// Enabled returns true if a flag is enabled via environment variable.
// Flags are read from env as FLAG_<NAME>=true/1/yes/on (case-insensitive).
// Unset or unrecognised values mean off.
func Enabled(name string) bool {
	v, ok := os.LookupEnv("FLAG_" + strings.ToUpper(name))
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
