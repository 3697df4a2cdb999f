// Package domainfilter loads EasyList-style ad/tracker hostname
// blocklists and answers ShouldBlock(url) for the HTML flattener's
// anchor-collapsing pass.
package domainfilter

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Filter is an immutable snapshot of blocked hostnames. Safe for
// concurrent reads; Load publishes a fresh snapshot atomically.
type Filter struct {
	mu    sync.RWMutex
	hosts map[string]struct{}
}

// New returns an empty filter that blocks nothing until Load succeeds.
func New() *Filter {
	return &Filter{hosts: map[string]struct{}{}}
}

// Load fetches each source URL, parses EasyList `||host^` anchor
// rules, and publishes the merged host set. Sources that fail are
// skipped; only when no source succeeds does it fall back to the cached
// copy at cacheFile (a JSON array of hostnames). If that cannot be read
// either, Load returns the cache error and the filter is left as-is
// (empty on first call, meaning it blocks nothing).
func (f *Filter) Load(ctx context.Context, sources []string, cacheFile string) error {
	merged := map[string]struct{}{}
	anySucceeded := false

	client := &http.Client{Timeout: 15 * time.Second}
	for _, src := range sources {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		func() {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return
			}
			for h := range parseEasyList(resp.Body) {
				merged[h] = struct{}{}
			}
			anySucceeded = true
		}()
	}

	if !anySucceeded {
		if cached, err := loadCache(cacheFile); err == nil {
			for h := range cached {
				merged[h] = struct{}{}
			}
		} else {
			return err
		}
	} else if cacheFile != "" {
		_ = saveCache(cacheFile, merged)
	}

	f.mu.Lock()
	f.hosts = merged
	f.mu.Unlock()
	return nil
}

func parseEasyList(r io.Reader) map[string]struct{} {
	out := map[string]struct{}{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}
		if strings.HasPrefix(line, "##") || strings.HasPrefix(line, "@@") {
			continue
		}
		if strings.Contains(line, "$") {
			continue
		}
		if !strings.HasPrefix(line, "||") || !strings.HasSuffix(line, "^") {
			continue
		}
		host := strings.TrimSuffix(strings.TrimPrefix(line, "||"), "^")
		if host != "" && !strings.ContainsAny(host, "/*") {
			out[strings.ToLower(host)] = struct{}{}
		}
	}
	return out
}

func loadCache(path string) (map[string]struct{}, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(list))
	for _, h := range list {
		out[h] = struct{}{}
	}
	return out, nil
}

func saveCache(path string, hosts map[string]struct{}) error {
	list := make([]string, 0, len(hosts))
	for h := range hosts {
		list = append(list, h)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ShouldBlock reports whether rawURL's host, or any parent domain of
// it, is in the blocked set.
func (f *Filter) ShouldBlock(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.hosts) == 0 {
		return false
	}

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels)-1; i++ {
		candidate := strings.Join(labels[i:], ".")
		if _, ok := f.hosts[candidate]; ok {
			return true
		}
	}
	return false
}
