package store

import "fmt"

// DefaultKeyPrefix namespaces cursor keys in shared Redis instances.
const DefaultKeyPrefix = "pulsewire"

// CursorKey constructs a fully qualified Redis key for a topic cursor.
// Format: {prefix}:cursors:{path}
func CursorKey(prefix, path string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return fmt.Sprintf("%s:cursors:%s", prefix, path)
}
