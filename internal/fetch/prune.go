package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/djherbis/times"
)

// Pruned is one cache entry selected for removal.
type Pruned struct {
	Path     string
	LastUsed time.Time
}

// Prune removes cache entries under root not accessed within olderThan of
// now; olderThan == 0 selects everything. Files inside archives/ and logs/
// are considered individually. sysroot-* trees are never removed because
// installed compilers point into them. With dryRun nothing is deleted.
func Prune(root string, olderThan time.Duration, dryRun bool, now time.Time) ([]Pruned, error) {
	candidates, err := pruneCandidates(root)
	if err != nil {
		return nil, err
	}

	var selected []Pruned
	for _, p := range candidates {
		ts, err := times.Stat(p)
		if err != nil {
			return selected, fmt.Errorf("stat %s: %w", p, err)
		}
		last := ts.AccessTime()
		if mt := ts.ModTime(); mt.After(last) {
			last = mt
		}
		if olderThan > 0 && now.Sub(last) < olderThan {
			continue
		}
		selected = append(selected, Pruned{Path: p, LastUsed: last})
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].LastUsed.Before(selected[j].LastUsed) })

	if dryRun {
		return selected, nil
	}
	for _, p := range selected {
		if err := os.RemoveAll(p.Path); err != nil {
			return selected, fmt.Errorf("remove %s: %w", p.Path, err)
		}
	}
	return selected, nil
}

func pruneCandidates(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache directory %s: %w", root, err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		p := filepath.Join(root, name)
		switch {
		case strings.HasPrefix(name, "sysroot-"):
		case (name == "archives" || name == "logs") && e.IsDir():
			inner, err := os.ReadDir(p)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", p, err)
			}
			for _, ie := range inner {
				out = append(out, filepath.Join(p, ie.Name()))
			}
		default:
			out = append(out, p)
		}
	}
	return out, nil
}
