// Package storeutil factors WAL-mode SQLite DSN construction into one
// place shared by the daemon's audit/RBAC database (cmd/svcorbd) and
// security.InitDatabase's session handle, instead of each caller building its own
// "?_journal_mode=WAL&_busy_timeout=...&cache=shared&..." query string by
// hand.
package storeutil

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Options tunes the pragma set. Zero values fall back to conservative
// defaults (30s busy timeout, 64MB cache, full synchronous).
type Options struct {
	BusyTimeoutMS  int
	CacheSizeKB    int // negative per sqlite3 convention (KB, not pages); 0 means use default
	Synchronous    string
	SharedCache    bool
	WALAutocheckpoint int
}

func (o Options) withDefaults() Options {
	if o.BusyTimeoutMS == 0 {
		o.BusyTimeoutMS = 30000
	}
	if o.CacheSizeKB == 0 {
		o.CacheSizeKB = -65536 // 64MB
	}
	if o.Synchronous == "" {
		o.Synchronous = "FULL"
	}
	if o.WALAutocheckpoint == 0 {
		o.WALAutocheckpoint = 1000
	}
	return o
}

// Open opens a WAL-mode SQLite database at path with the shared pragma
// set, applies the same connection pool limits across every caller, and
// pings to confirm the connection.
func Open(path string, opts Options) (*sql.DB, error) {
	opts = opts.withDefaults()

	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", fmt.Sprintf("%d", opts.BusyTimeoutMS))
	q.Set("_cache_size", fmt.Sprintf("%d", opts.CacheSizeKB))
	q.Set("_synchronous", opts.Synchronous)
	q.Set("_wal_autocheckpoint", fmt.Sprintf("%d", opts.WALAutocheckpoint))
	if opts.SharedCache {
		q.Set("cache", "shared")
	}

	dsn := path + "?" + q.Encode()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storeutil: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storeutil: ping %s: %w", path, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}
