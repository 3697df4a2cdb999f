// Package domainconfig holds the per-domain scrape policy (allowed,
// proxy type, path-based content-filter/main-content overrides) in a
// bbolt-backed store, with lock-free reads off an atomically-swapped
// in-memory snapshot.
package domainconfig

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/urlx"
)

var (
	bucketDomains      = []byte("domains")
	bucketBaseConfig   = []byte("base_config")
	bucketPathPatterns = []byte("path_patterns")
	bucketPathOverrides = []byte("path_overrides")
)

// snapshot is the immutable view query methods read from.
type snapshot struct {
	domains map[string]*models.DomainConfig // keyed by registrable host
	base    []models.BaseConfigRule
}

// Store is the domain-configuration service. Zero value is not usable;
// construct with New.
type Store struct {
	db              *bbolt.DB
	current         atomic.Pointer[snapshot]
	refreshInterval time.Duration
	stop            chan struct{}
	done            chan struct{}
}

// New opens (creating if absent) the domain-config buckets in db.
func New(db *bbolt.DB, refreshInterval time.Duration) (*Store, error) {
	if refreshInterval <= 0 {
		refreshInterval = 300 * time.Second
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketDomains, bucketBaseConfig, bucketPathPatterns, bucketPathOverrides} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, refreshInterval: refreshInterval}
	s.current.Store(&snapshot{domains: map[string]*models.DomainConfig{}})
	return s, nil
}

// Start loads the snapshot once, then refreshes it on a ticker until
// ctx is cancelled or Stop is called.
func (s *Store) Start(ctx context.Context) error {
	if err := s.refresh(); err != nil {
		return err
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if err := s.refresh(); err != nil {
					slog.Warn("domainconfig: refresh failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// Stop halts the refresh goroutine, if running.
func (s *Store) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}

func (s *Store) refresh() error {
	next := &snapshot{domains: map[string]*models.DomainConfig{}}

	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketBaseConfig); b != nil {
			return b.ForEach(func(_, v []byte) error {
				var rule models.BaseConfigRule
				if err := json.Unmarshal(v, &rule); err != nil {
					return nil // skip corrupt rows rather than fail the whole refresh
				}
				next.base = append(next.base, rule)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDomains)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var cfg models.DomainConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return nil
			}
			next.domains[cfg.URL] = &cfg
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.current.Store(next)
	return nil
}

// Upsert persists cfg and makes it visible on the next refresh (and,
// to avoid a stale read window for the caller that just wrote it,
// immediately via a targeted snapshot patch).
func (s *Store) Upsert(cfg *models.DomainConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDomains).Put([]byte(cfg.ID), data)
	})
	if err != nil {
		return err
	}

	cur := s.current.Load()
	next := &snapshot{domains: make(map[string]*models.DomainConfig, len(cur.domains)+1), base: cur.base}
	for k, v := range cur.domains {
		next.domains[k] = v
	}
	next.domains[cfg.URL] = cfg
	s.current.Store(next)
	return nil
}

// Get returns the config for the registrable host extracted from
// rawURL, or nil if none exists.
func (s *Store) Get(rawURL string) *models.DomainConfig {
	host := urlx.ExtractDomain(rawURL)
	return s.current.Load().domains[host]
}

// IsScrapeAllowed reports whether rawURL's domain permits scraping.
// Unknown domains default to allowed.
func (s *Store) IsScrapeAllowed(rawURL string) bool {
	cfg := s.Get(rawURL)
	if cfg == nil {
		return true
	}
	return cfg.ScrapeAllowed
}

// ProxyType returns the configured proxy type for rawURL's domain, or
// the zero value if unset.
func (s *Store) ProxyType(rawURL string) models.ProxyType {
	cfg := s.Get(rawURL)
	if cfg == nil || cfg.Settings == nil {
		return ""
	}
	return cfg.Settings.ProxyType
}

// BaseRules returns the global fallback content-filter rules.
func (s *Store) BaseRules() []models.BaseConfigRule {
	return s.current.Load().base
}

// OverridesForPath resolves the path-pattern overrides applicable to
// rawURL, picking the single best-matching pattern via urlx.MatchPath
// and splitting its overrides by config_type.
func (s *Store) OverridesForPath(rawURL string) models.PathOverridesByType {
	var out models.PathOverridesByType
	cfg := s.Get(rawURL)
	if cfg == nil || len(cfg.PathPatterns) == 0 {
		return out
	}

	info, err := urlx.Canonicalize(rawURL)
	if err != nil {
		return out
	}

	patterns := make([]string, len(cfg.PathPatterns))
	byPattern := make(map[string]PathPatternRef, len(cfg.PathPatterns))
	for i, pp := range cfg.PathPatterns {
		patterns[i] = pp.Pattern
		byPattern[pp.Pattern] = PathPatternRef{Index: i}
	}

	best, ok := urlx.MatchPath(info.Path, patterns)
	if !ok {
		return out
	}
	ref := byPattern[best]
	for _, ov := range cfg.PathPatterns[ref.Index].Overrides {
		if !ov.IsActive {
			continue
		}
		switch ov.ConfigType {
		case "content_filter":
			out.ContentFilter = append(out.ContentFilter, ov)
		case "main_content":
			out.MainContent = append(out.MainContent, ov)
		}
	}
	return out
}

// PathPatternRef is an internal index into a DomainConfig's
// PathPatterns slice, used to avoid a second linear scan after
// urlx.MatchPath picks the winning pattern string.
type PathPatternRef struct {
	Index int
}
