package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondpulse/pkg/contracts/domain"
)

func f64(v float64) *float64 {
	return &v
}

func sampleDataset() []domain.RunRecord {
	return []domain.RunRecord{
		{
			ObservationDate: time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC),
			ObservationTime: "07:17",
			Security:        "FORDO 5.8 02/03/28",
			CUSIP:           "34527ACL2",
			Dealer:          "TD",
			BidPrice:        f64(101.85),
			AskPrice:        f64(102.10),
			BidSize:         f64(500),
			AskSize:         f64(250),
			BidSpread:       f64(85),
			SourceFile:      "runs_2025-05-28.xlsx",
		},
		{
			ObservationDate: time.Date(2025, 5, 29, 0, 0, 0, 0, time.UTC),
			Security:        "T 4.25 05/15/35",
			CUSIP:           "912828XG8",
			Dealer:          "RBC",
			BidSpread:       f64(42.5),
			SourceFile:      "rbc_run.csv",
		},
	}
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "runs.parquet"), nil)

	want := sampleDataset()
	require.NoError(t, store.Write(want))

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_ReadMissingFileIsEmptyDataset(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "runs.parquet"), nil)

	got, err := store.Read()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_WriteCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "data", "nested", "runs.parquet"), nil)

	require.NoError(t, store.Write(sampleDataset()))

	_, err := os.Stat(store.Path())
	assert.NoError(t, err)
}

func TestStore_WriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "runs.parquet"), nil)

	require.NoError(t, store.Write(sampleDataset()))
	require.NoError(t, store.Write(sampleDataset()[:1]))

	got, err := store.Read()
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// No temp files may be left behind after a successful write.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "runs.parquet", entries[0].Name())
}

func TestStore_WriteEmptyDataset(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "runs.parquet"), nil)

	require.NoError(t, store.Write(nil))

	got, err := store.Read()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_CorruptFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.parquet")
	require.NoError(t, os.WriteFile(path, []byte("not a parquet file"), 0644))

	_, err := NewStore(path, nil).Read()
	assert.Error(t, err)
}
