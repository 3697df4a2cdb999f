// Package failurelog is an append-only bbolt-backed record of failed
// fetch attempts, grounded on spec.md §6's failure_log table.
package failurelog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/use-agent/purify/models"
)

var bucketFailureLog = []byte("failure_log")

// Log is the append-only failure record. A nil *Log is valid and
// every method becomes a no-op, so callers can wire it in optionally.
type Log struct {
	db *bbolt.DB
}

// New opens (creating if absent) the failure_log bucket in db.
func New(db *bbolt.DB) (*Log, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFailureLog)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Log{db: db}, nil
}

// Append records entry. Errors are logged and swallowed — a failure
// to record a failure must never fail the caller's own request.
func (l *Log) Append(ctx context.Context, entry models.FailureLogEntry) {
	if l == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("failurelog: marshal failed", "error", err)
		return
	}
	// Fixed-width UTC timestamp so byte order of keys is chronological.
	key := entry.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z") + ":" + uuid.NewString()
	err = l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFailureLog).Put([]byte(key), data)
	})
	if err != nil {
		slog.Warn("failurelog: append failed", "error", err, "url", entry.TargetURL)
	}
}

// Recent returns up to limit entries for domainName, newest first, for
// diagnostics tooling. A zero limit returns all matching entries.
func (l *Log) Recent(domainName string, limit int) []models.FailureLogEntry {
	if l == nil {
		return nil
	}
	var out []models.FailureLogEntry
	_ = l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFailureLog).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e models.FailureLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if domainName != "" && e.DomainName != domainName {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out
}
