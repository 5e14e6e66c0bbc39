package bridgesdk

import "strings"

// joinPath joins a bridge base URL with a path segment (one of "events",
// "message", "verify"), tolerating a trailing slash on base.
func joinPath(base, segment string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(segment, "/")
}
