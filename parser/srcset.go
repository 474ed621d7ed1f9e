package parser

import (
	"strconv"
	"strings"
)

// WidestCandidate returns the URL with the largest declared width ("640w")
// in a srcset value. Entries without a width descriptor count as width 0;
// ties go to the lexicographically greater URL.
func WidestCandidate(srcset string) string {
	bestURL := ""
	bestWidth := -1
	for _, entry := range strings.Split(srcset, ",") {
		tokens := strings.Fields(entry)
		if len(tokens) == 0 {
			continue
		}
		candidate := tokens[0]
		width := 0
		if len(tokens) > 1 && strings.HasSuffix(tokens[1], "w") {
			if parsed, err := strconv.Atoi(strings.TrimSuffix(tokens[1], "w")); err == nil {
				width = parsed
			}
		}
		if width > bestWidth || (width == bestWidth && candidate > bestURL) {
			bestURL = candidate
			bestWidth = width
		}
	}
	return bestURL
}
