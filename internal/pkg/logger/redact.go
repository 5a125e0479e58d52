package logger

import (
	"regexp"
	"strings"
)

// dsnPasswordRegex matches the password segment of user:password@host DSNs
// (both the Snowflake and Postgres forms use this shape). The password class
// excludes "/" so the "//" after a URL scheme is never mistaken for one.
var dsnPasswordRegex = regexp.MustCompile(`(://|^)([^:/@\s]+):([^/@\s]+)@`)

// RedactDSN masks the password portion of a connection string.
// "user:hunter2@acct/db/schema" → "user:***@acct/db/schema"
func RedactDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, "$1$2:***@")
}

var secretKeyFragments = []string{"password", "secret", "token", "api_key", "apikey"}

func redactSecretValue(key, val string) string {
	lower := strings.ToLower(key)
	for _, frag := range secretKeyFragments {
		if strings.Contains(lower, frag) {
			return "***"
		}
	}
	if strings.Contains(lower, "dsn") || strings.Contains(lower, "url") {
		return RedactDSN(val)
	}
	return val
}
