package token

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-warden/internal/store"
)

func TestFallbackRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := NewFallback(dir, testLogger(t))

	assert.Nil(t, f.ReadActive())

	f.WriteSnapshot(&store.TokenRecord{AccessToken: "snap", RefreshToken: "snap-r", Active: true})

	rec := f.ReadActive()
	require.NotNil(t, rec)
	assert.Equal(t, "snap", rec.AccessToken)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	// One timestamped snapshot plus the canonical active copy.
	assert.Len(t, entries, 2)
}

func TestFallbackSkipsCorruptActiveSnapshot(t *testing.T) {
	dir := t.TempDir()
	f := NewFallback(dir, testLogger(t))

	f.WriteSnapshot(&store.TokenRecord{AccessToken: "good"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, activeSnapshot), []byte("{not json"), 0o600))

	rec := f.ReadActive()
	require.NotNil(t, rec)
	assert.Equal(t, "good", rec.AccessToken)
}

func TestFallbackIgnoresInvalidDiagnostic(t *testing.T) {
	dir := t.TempDir()
	f := NewFallback(dir, testLogger(t))

	// The diagnostic copy of a rejected token must never be served as
	// the active credential.
	f.WriteInvalid(&store.TokenRecord{AccessToken: "rejected"})
	assert.Nil(t, f.ReadActive())
}

func TestFallbackMissingDirectory(t *testing.T) {
	f := NewFallback(filepath.Join(t.TempDir(), "does-not-exist"), testLogger(t))
	assert.Nil(t, f.ReadActive())
}
