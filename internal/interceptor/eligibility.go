package interceptor

import (
	"regexp"
	"strings"
)

// Static assets and reserved application prefixes never get annotated.
var skipExtensions = regexp.MustCompile(`(?i)\.(css|js|png|jpg|jpeg|gif|ico|svg|woff|woff2|ttf|pdf)$`)

var skipPrefixes = []string{
	"/api/",
	"/admin/",
	"/wp-admin/",
	"/wp-content/",
}

// EligiblePath reports whether a request path may carry injected metadata.
func EligiblePath(path string) bool {
	if skipExtensions.MatchString(path) {
		return false
	}
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
