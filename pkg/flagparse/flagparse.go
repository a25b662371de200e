// Package flagparse holds the small parsers for list-valued command-line
// flags.
package flagparse

import "strings"

// ParsePathList splits a comma-separated list of paths, trimming whitespace
// and dropping empty items.
func ParsePathList(raw string) []string {
	parts := strings.Split(raw, ",")
	paths := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paths = append(paths, p)
	}
	return paths
}
