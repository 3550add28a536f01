package search

import (
	"slices"
	"strings"
)

// ResolveOrder returns the providers to try for requested. An explicit
// provider is returned as is. In auto mode the comma-separated autoOrder
// (DefaultAutoOrder when blank) is filtered to known, credentialed
// providers without duplicates; when none remain the result is ["none"].
func ResolveOrder(requested, autoOrder string, providers Providers) []string {
	if requested != ProviderAuto {
		return []string{requested}
	}

	configured := splitOrder(autoOrder)
	if len(configured) == 0 {
		configured = splitOrder(DefaultAutoOrder)
	}

	out := make([]string, 0, len(configured))
	for _, name := range configured {
		p, ok := providers[name]
		if !ok || slices.Contains(out, name) {
			continue
		}
		if p.Configured() {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return []string{ProviderNone}
	}
	return out
}

func splitOrder(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
