package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type cacheEntry struct {
	paths   []string
	size    int64
	modTime time.Time
}

// EnforceLLMCacheLimits evicts summarization cache entries, oldest mtime
// first, until the directory holds at most maxCount files and maxBytes bytes.
// A zero limit disables that constraint. Returns the number of entries
// removed.
func EnforceLLMCacheLimits(dir string, maxBytes int64, maxCount int) (int, error) {
	entries, err := collectEntries(dir, func(name string) (string, bool) {
		if strings.HasSuffix(name, ".meta.json") || strings.HasSuffix(name, ".body") {
			return "", false
		}
		if !strings.HasSuffix(name, ".json") {
			return "", false
		}
		return strings.TrimSuffix(name, ".json"), true
	})
	if err != nil {
		return 0, err
	}
	return evict(entries, maxBytes, maxCount)
}

// EnforceHTTPCacheLimits evicts page cache entries the same way. A page's
// meta and body files count as one entry and are removed together.
func EnforceHTTPCacheLimits(dir string, maxBytes int64, maxCount int) (int, error) {
	entries, err := collectEntries(dir, func(name string) (string, bool) {
		switch {
		case strings.HasSuffix(name, ".meta.json"):
			return strings.TrimSuffix(name, ".meta.json"), true
		case strings.HasSuffix(name, ".body"):
			return strings.TrimSuffix(name, ".body"), true
		default:
			return "", false
		}
	})
	if err != nil {
		return 0, err
	}
	return evict(entries, maxBytes, maxCount)
}

// collectEntries groups the files in dir into logical cache entries using
// keyFor to map a file name to its entry key. Unrelated files are skipped.
func collectEntries(dir string, keyFor func(name string) (string, bool)) (map[string]*cacheEntry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	entries := make(map[string]*cacheEntry)
	for _, item := range items {
		if item.IsDir() {
			continue
		}
		key, ok := keyFor(item.Name())
		if !ok {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		e := entries[key]
		if e == nil {
			e = &cacheEntry{}
			entries[key] = e
		}
		e.paths = append(e.paths, filepath.Join(dir, item.Name()))
		e.size += info.Size()
		if info.ModTime().After(e.modTime) {
			e.modTime = info.ModTime()
		}
	}
	return entries, nil
}

func evict(entries map[string]*cacheEntry, maxBytes int64, maxCount int) (int, error) {
	if len(entries) == 0 || (maxBytes <= 0 && maxCount <= 0) {
		return 0, nil
	}
	ordered := make([]*cacheEntry, 0, len(entries))
	total := int64(0)
	for _, e := range entries {
		ordered = append(ordered, e)
		total += e.size
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].modTime.Before(ordered[j].modTime) })

	removed := 0
	count := len(ordered)
	for _, e := range ordered {
		overCount := maxCount > 0 && count > maxCount
		overBytes := maxBytes > 0 && total > maxBytes
		if !overCount && !overBytes {
			break
		}
		for _, p := range e.paths {
			_ = os.Remove(p)
		}
		removed++
		count--
		total -= e.size
	}
	return removed, nil
}
