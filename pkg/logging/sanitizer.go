package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of a sampling query to log.
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// Matches password=xxx, pwd=xxx, pass=xxx in connection strings / DSNs.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Matches bearer tokens and API keys that may leak through provider errors.
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_.]+`)
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// Matches user:pass@host credentials in URI-style connection strings,
	// including bolt:// graph URIs.
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a DSN or graph URI before
// it is logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeError sanitizes error text that may carry credentials, for example
// driver connection failures that echo the DSN.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = passwordPattern.ReplaceAllString(msg, "${1}="+RedactedText)
	msg = bearerPattern.ReplaceAllString(msg, "Bearer "+RedactedText)
	msg = apiKeyPattern.ReplaceAllString(msg, "${1}="+RedactedText)
	msg = connStringPattern.ReplaceAllString(msg, "://"+RedactedText+"@"+RedactedText)
	return msg
}

// TruncateQuery shortens a sampling SQL string for log output.
func TruncateQuery(query string) string {
	if len(query) <= MaxQueryLogLength {
		return query
	}
	return query[:MaxQueryLogLength] + "..."
}
