package util

import (
	"regexp"
	"strings"
)

var handleRe = regexp.MustCompile(`^[a-z0-9._]{1,30}$`)

// NormalizeHandle turns user input like " @Some.User " into "some.user".
func NormalizeHandle(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}

// ValidHandle reports whether an already normalized handle is well formed.
func ValidHandle(h string) bool {
	return handleRe.MatchString(h)
}
