package errors

import "regexp"

// sensitivePatterns match credential-shaped substrings that must never
// appear verbatim in an error message or log line.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), // JWT
	regexp.MustCompile(`ghp_[A-Za-z0-9]{20,}`),                              // GitHub token
	regexp.MustCompile(`AKIA[A-Z0-9]{12,}`),                                 // AWS access key
	regexp.MustCompile(`(?i)[A-Za-z0-9_]*_password["\s:=]+\S+`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact replaces any sensitive-data substrings in s with a fixed
// placeholder. It is applied to every error message and log line that may
// carry user- or tool-supplied content.
func Redact(s string) string {
	for _, re := range sensitivePatterns {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}
