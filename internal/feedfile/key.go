package feedfile

import (
	"regexp"
	"strings"
)

var keySanitizerRe = regexp.MustCompile(`[^-&\[\]a-z0-9]+`)

// Key derives the deterministic file and feed name for a blog title.
// The same title always maps to the same key.
func Key(title string) string {
	key := strings.ToLower(strings.TrimSpace(title))
	key = strings.Join(strings.Fields(key), "_")
	key = keySanitizerRe.ReplaceAllString(key, "_")

	return strings.Trim(key, "_")
}
