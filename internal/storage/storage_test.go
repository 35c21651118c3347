package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

func sampleOutcomes() []models.Outcome {
	ok := models.NewRecord()
	ok.Set(models.FieldURL, "https://www.amazon.com/dp/B000000001")
	ok.Set("title", "Wireless Mouse")

	partial := models.NewRecord()
	partial.Set(models.FieldURL, "https://www.amazon.com/dp/B000000002")

	return []models.Outcome{
		models.Succeeded(ok),
		models.Failed(partial, errors.New("category not found")),
	}
}

func TestResultStoreSave(t *testing.T) {
	dir := t.TempDir()
	store, err := NewResultStore(dir)
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

	path, err := store.Save("Amazon", "wireless mouse!", sampleOutcomes())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "amazon_wireless-mouse_20240301T123000.000.json"), path)

	records, err := Load(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Wireless Mouse", records[0]["title"])
	assert.Equal(t, "ok", records[0]["status"])
	assert.Equal(t, "failed", records[1]["status"])
	assert.Equal(t, "category not found", records[1]["error"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestResultStoreList(t *testing.T) {
	store, err := NewResultStore(t.TempDir())
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return ts }
	first, err := store.Save("ebay", "mouse", nil)
	require.NoError(t, err)

	ts = ts.Add(time.Minute)
	second, err := store.Save("ebay", "mouse", nil)
	require.NoError(t, err)

	files, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, files)
}

func TestWriteFileEmptyOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteFile(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestNewResultStoreRequiresDir(t *testing.T) {
	_, err := NewResultStore("")
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "wireless-mouse", slug("  Wireless Mouse "))
	assert.Equal(t, "results", slug("!!!"))
}
