package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// SensitiveDataPatterns match credentials embedded in free text
var SensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`()eyJ[a-zA-Z0-9_-]{5,}\.eyJ[a-zA-Z0-9_-]{5,}\.[a-zA-Z0-9_-]{5,}`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|passw(?:or)?d)[\s:=]+)([^;,\s"]{5,})`),
}

// SensitiveKeywords mark field keys whose string values are never logged
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "authorization", "api_key", "apikey", "cookie",
}

// RedactSensitiveData replaces credentials in s with "[REDACTED]"
func RedactSensitiveData(s string) string {
	if s == "" {
		return s
	}
	for _, pattern := range SensitiveDataPatterns {
		s = pattern.ReplaceAllString(s, "${1}"+redactedValue)
	}
	return s
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range SensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
