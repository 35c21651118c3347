package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/models"
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// ResultStore writes scrape outcomes as indented JSON arrays, one file per
// marketplace run.
type ResultStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func NewResultStore(dir string) (*ResultStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("results directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	return &ResultStore{dir: dir, now: time.Now}, nil
}

func (s *ResultStore) Dir() string {
	return s.dir
}

// Save writes outcomes to <marketplace>_<keyword>_<timestamp>.json and returns
// the path.
func (s *ResultStore) Save(marketplace, keyword string, outcomes []models.Outcome) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%s_%s_%s.json",
		slug(marketplace),
		slug(keyword),
		s.now().UTC().Format("20060102T150405.000"),
	)
	path := filepath.Join(s.dir, name)

	if err := WriteFile(path, outcomes); err != nil {
		return "", err
	}
	return path, nil
}

// List returns the stored result files, newest first.
func (s *ResultStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// Load reads a stored result file back as generic records. Field order is not
// preserved.
func Load(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return records, nil
}

// WriteFile encodes outcomes to path. The data goes to a temp file first and
// is renamed into place, so readers never see a partial file.
func WriteFile(path string, outcomes []models.Outcome) error {
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}

	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to move results into place: %w", err)
	}
	return nil
}

func slug(s string) string {
	s = unsafeChars.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "results"
	}
	return s
}
