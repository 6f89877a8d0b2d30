package dispatch

import "strings"

// MergeRecipients lower-cases and deduplicates addresses, keeping the primary
// address first and then the first-seen order of the rest. Blank entries are
// dropped.
func MergeRecipients(primary string, extra []string) []string {
	seen := make(map[string]struct{}, len(extra)+1)
	out := make([]string, 0, len(extra)+1)

	add := func(addr string) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" {
			return
		}
		if _, dup := seen[addr]; dup {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	add(primary)
	for _, addr := range extra {
		add(addr)
	}
	return out
}
