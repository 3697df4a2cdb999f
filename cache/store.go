package cache

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/simhash"
)

var (
	bucketParsedPages       = []byte("parsed_pages")
	bucketParsedPagesActive = []byte("parsed_pages_active")
)

// persistedRow is the bbolt-encoded value for one parsed_pages entry.
type persistedRow struct {
	Validity    models.Validity    `json:"validity"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Content     models.ParseResult `json:"content"`
	ContentType models.ContentType `json:"content_type"`
	CharCount   int                `json:"char_count"`
	ScrapedAt   time.Time          `json:"scraped_at"`
}

// Store is the two-tier parsed-page cache: an in-memory tier-one map
// for hot reads, backed by a bbolt tier-two store keyed by page_name.
// Safe for concurrent use.
type Store struct {
	db *bbolt.DB

	mu     sync.RWMutex
	hot    map[string]persistedRow
	stop   chan struct{}
	done   chan struct{}
	period time.Duration
}

// NewStore opens (creating if absent) the cache buckets in db and
// starts an hourly janitor goroutine that sweeps invalid rows.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketParsedPages, bucketParsedPagesActive} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, hot: map[string]persistedRow{}, period: time.Hour}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.janitorLoop()
	return s, nil
}

// Close stops the janitor goroutine.
func (s *Store) Close() {
	close(s.stop)
	<-s.done
}

// Get returns the cached parse result for pageName if present and not
// expired: tier one is checked first, then tier two (hydrating tier
// one on a tier-two hit).
func (s *Store) Get(pageName string) (models.ParseResult, bool) {
	s.mu.RLock()
	row, ok := s.hot[pageName]
	s.mu.RUnlock()
	if ok && time.Now().Before(row.ExpiresAt) {
		return row.Content, true
	}

	var found persistedRow
	var hit bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParsedPages)
		v := b.Get([]byte(pageName))
		if v == nil {
			return nil
		}
		var r persistedRow
		if err := json.Unmarshal(v, &r); err != nil {
			return nil
		}
		if r.Validity == models.ValidityActive && time.Now().Before(r.ExpiresAt) {
			found, hit = r, true
		}
		return nil
	})
	if !hit {
		return models.ParseResult{}, false
	}
	s.mu.Lock()
	s.hot[pageName] = found
	s.mu.Unlock()
	return found.Content, true
}

// Set stores content for pageName with the given TTL. Within a single
// bbolt transaction, any prior active row for pageName is marked
// stale before the new one is inserted, enforcing "at most one active
// row per page_name" the way a partial unique index would.
func (s *Store) Set(pageName string, content models.ParseResult, contentType models.ContentType, charCount int, ttl time.Duration) error {
	row := persistedRow{
		Validity:    models.ValidityActive,
		ExpiresAt:   time.Now().Add(ttl),
		Content:     content,
		ContentType: contentType,
		CharCount:   charCount,
		ScrapedAt:   time.Now(),
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		pages := tx.Bucket(bucketParsedPages)
		active := tx.Bucket(bucketParsedPagesActive)

		if prior := pages.Get([]byte(pageName)); prior != nil {
			var p persistedRow
			if err := json.Unmarshal(prior, &p); err == nil && p.Validity == models.ValidityActive {
				logRefetchSimilarity(pageName, p.Content.Hashes, content.Hashes)
				p.Validity = models.ValidityStale
				staleData, _ := json.Marshal(p)
				if err := pages.Put([]byte(pageName+":stale:"+p.ScrapedAt.Format(time.RFC3339Nano)), staleData); err != nil {
					return err
				}
			}
		}
		if err := pages.Put([]byte(pageName), data); err != nil {
			return err
		}
		return active.Put([]byte(pageName), []byte{1})
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.hot[pageName] = row
	s.mu.Unlock()
	return nil
}

// Invalidate removes pageName from tier one and marks its tier-two row
// invalid.
func (s *Store) Invalidate(pageName string) error {
	s.mu.Lock()
	delete(s.hot, pageName)
	s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		pages := tx.Bucket(bucketParsedPages)
		active := tx.Bucket(bucketParsedPagesActive)
		v := pages.Get([]byte(pageName))
		if v == nil {
			return nil
		}
		var row persistedRow
		if err := json.Unmarshal(v, &row); err != nil {
			return nil
		}
		row.Validity = models.ValidityInvalid
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := pages.Put([]byte(pageName), data); err != nil {
			return err
		}
		return active.Delete([]byte(pageName))
	})
}

// janitorLoop sweeps validity=invalid rows hourly, closing the
// unbounded-growth gap an append-only KV cache would otherwise have.
func (s *Store) janitorLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	var staleKeys [][]byte
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParsedPages)
		return b.ForEach(func(k, v []byte) error {
			var row persistedRow
			if err := json.Unmarshal(v, &row); err != nil {
				return nil
			}
			if row.Validity == models.ValidityInvalid {
				key := append([]byte(nil), k...)
				staleKeys = append(staleKeys, key)
			}
			return nil
		})
	})
	if len(staleKeys) == 0 {
		return
	}
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketParsedPages)
		for _, k := range staleKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// logRefetchSimilarity compares a page's previous and new content
// fingerprints and logs when a refetch landed on near-duplicate content,
// the common case for pages whose only change is a timestamp or ad slot.
func logRefetchSimilarity(pageName string, prior, next *models.PageHashes) {
	if prior == nil || next == nil {
		return
	}
	dist := simhash.Distance(prior.SimHash, next.SimHash)
	if simhash.Similar(prior.SimHash, next.SimHash, simhash.DefaultDuplicateThreshold) {
		slog.Debug("refetch produced near-duplicate content",
			"page_name", pageName,
			"simhash_distance", dist,
		)
	}
}
