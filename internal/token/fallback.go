package token

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"token-warden/internal/common/logging"
	"token-warden/internal/store"
)

// Fallback keeps JSON snapshots of token records on disk so a credential
// obtained moments before a store outage is not lost. Every failure here is
// logged and swallowed; the fallback must never make a bad situation worse.
type Fallback struct {
	dir    string
	logger logging.Logger
}

const (
	activeSnapshot  = "token_active.json"
	invalidSnapshot = "token_invalid.json"
	snapshotPrefix  = "token_"
	snapshotLayout  = "20060102_150405"
)

func NewFallback(dir string, logger logging.Logger) *Fallback {
	return &Fallback{
		dir:    dir,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "fallback"}),
	}
}

func (f *Fallback) write(name string, rec *store.TokenRecord) {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		f.logger.Error("failed to create fallback directory", err,
			logging.Field{Key: "dir", Value: f.dir})
		return
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		f.logger.Error("failed to serialize token snapshot", err)
		return
	}

	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		f.logger.Error("failed to write token snapshot", err,
			logging.Field{Key: "path", Value: path})
		return
	}
	f.logger.Info("wrote token snapshot", logging.Field{Key: "path", Value: path})
}

// WriteSnapshot records rec both as a timestamped file and as the
// canonical active snapshot.
func (f *Fallback) WriteSnapshot(rec *store.TokenRecord) {
	stamped := snapshotPrefix + time.Now().UTC().Format(snapshotLayout) + ".json"
	f.write(stamped, rec)
	f.write(activeSnapshot, rec)
}

// WriteInvalid records a diagnostic copy of a token the provider rejected.
func (f *Fallback) WriteInvalid(rec *store.TokenRecord) {
	f.write(invalidSnapshot, rec)
}

func (f *Fallback) read(name string) *store.TokenRecord {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		return nil
	}
	var rec store.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		f.logger.Warn("unparseable token snapshot",
			logging.Field{Key: "file", Value: name}, logging.Err(err))
		return nil
	}
	if rec.AccessToken == "" {
		return nil
	}
	return &rec
}

// ReadActive returns the canonical active snapshot, or failing that the
// newest parseable timestamped snapshot. Nil when nothing usable exists.
func (f *Fallback) ReadActive() *store.TokenRecord {
	if rec := f.read(activeSnapshot); rec != nil {
		return rec
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		if name == activeSnapshot || name == invalidSnapshot {
			continue
		}
		names = append(names, name)
	}
	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		if rec := f.read(name); rec != nil {
			return rec
		}
	}
	return nil
}
