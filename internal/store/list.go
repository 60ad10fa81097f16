package store

import (
	"sort"
	"strings"
)

// ChildEntries folds a flat set of file paths into the immediate children of
// prefix, the way a directory listing on the commit-versioned backend reports
// them. Nested files collapse into a single dir entry.
func ChildEntries(prefix string, paths []string) []Entry {
	base := ""
	if prefix != "" {
		base = prefix + "/"
	}
	seen := map[string]Entry{}
	for _, p := range paths {
		if !strings.HasPrefix(p, base) {
			continue
		}
		rest := strings.TrimPrefix(p, base)
		if rest == "" {
			continue
		}
		name, _, nested := strings.Cut(rest, "/")
		if _, ok := seen[name]; ok {
			continue
		}
		kind := KindFile
		if nested {
			kind = KindDir
		}
		seen[name] = Entry{Name: name, Path: base + name, Kind: kind}
	}
	out := make([]Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
