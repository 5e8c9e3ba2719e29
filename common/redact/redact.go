// Package redact strips credentials from text before it is logged or sent
// back into a chat room.
//
// LLM provider errors routinely echo the request URL (Gemini carries its
// API key in the query string) and Matrix errors can include the access
// token. Anything that crosses into a log line or a reply goes through here.
package redact

import (
	"regexp"
	"strings"
)

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

// minSecretLen keeps very short values from matching ordinary words.
const minSecretLen = 4

// String replaces every occurrence of each secret in s with Placeholder.
// Values shorter than four bytes are ignored.
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, Placeholder)
	}
	return s
}

// credentialParam matches key=, api_key=, access_token= and similar
// parameters inside URLs or form-encoded text.
var credentialParam = regexp.MustCompile(`(?i)\b((?:api_?)?key|access_token|token|secret)=([^&\s"']+)`)

// bearer matches an Authorization header value.
var bearer = regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]+`)

// Credentials removes credential-looking query parameters and bearer tokens
// from s without knowing the secret values.
func Credentials(s string) string {
	s = credentialParam.ReplaceAllString(s, "${1}="+Placeholder)
	return bearer.ReplaceAllString(s, "${1} "+Placeholder)
}

// All applies Credentials, then String with the given secrets.
func All(s string, secrets ...string) string {
	return String(Credentials(s), secrets...)
}

// Map returns a shallow copy of m with the string values of secret-looking
// keys replaced. Other values are copied unchanged.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok && str != "" && sensitiveKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = v
	}
	return out
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "key", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
