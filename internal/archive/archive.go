// Package archive keeps JSON snapshots of mapped crawl batches on disk.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/starford/rankwatch/internal/checksum"
	"github.com/starford/rankwatch/internal/models"
)

const nameLayout = "20060102T150405.000000Z"

// Snapshot is one archived batch.
type Snapshot struct {
	CrawlTime time.Time       `json:"crawl_time"`
	Records   []models.Record `json:"records"`
}

// Info describes an archived snapshot file.
type Info struct {
	Name      string    `json:"name"`
	CrawlTime time.Time `json:"crawl_time"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
}

// FS stores snapshots in a directory.
type FS struct {
	root string // absolute path to snapshot directory
	keep int
}

// NewFS creates an FS rooted at dir, creating it if needed. keep > 0 limits
// the number of retained snapshots.
func NewFS(dir string, keep int) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("archive: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir: %w", err)
	}
	return &FS{root: abs, keep: keep}, nil
}

// Root returns the snapshot directory.
func (f *FS) Root() string { return f.root }

// FileName returns the snapshot file name for crawlTime.
func FileName(crawlTime time.Time) string {
	return crawlTime.UTC().Format(nameLayout) + ".json"
}

// safePath resolves name inside root and rejects anything that escapes it.
func (f *FS) safePath(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if cleaned == "." || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("archive: invalid snapshot name: %s", name)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("archive: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive: path escapes archive root: %s", name)
	}
	return abs, nil
}

// Write stores a batch and returns the snapshot path. The file is written
// atomically: tmp file → fsync → rename.
func (f *FS) Write(crawlTime time.Time, records []models.Record) (string, error) {
	data, err := json.MarshalIndent(Snapshot{CrawlTime: crawlTime.UTC(), Records: records}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encode: %w", err)
	}
	abs, err := f.safePath(FileName(crawlTime))
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(f.root, ".rankwatch-tmp-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("archive: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("archive: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("archive: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return "", fmt.Errorf("archive: rename: %w", err)
	}
	success = true

	if f.keep > 0 {
		if _, err := f.Prune(f.keep); err != nil {
			return abs, err
		}
	}
	return abs, nil
}

// List returns every snapshot ordered by crawl time, oldest first.
func (f *FS) List() ([]Info, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ts, err := time.Parse(nameLayout, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		sum, size, err := checksum.File(filepath.Join(f.root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		out = append(out, Info{
			Name:      e.Name(),
			CrawlTime: ts,
			Size:      size,
			Checksum:  sum,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CrawlTime.Before(out[j].CrawlTime) })
	return out, nil
}

// Read loads a snapshot by file name, or by path when name is absolute and
// points inside the archive.
func (f *FS) Read(name string) (*Snapshot, error) {
	if filepath.IsAbs(name) {
		rel, err := filepath.Rel(f.root, name)
		if err != nil {
			return nil, fmt.Errorf("archive: resolve %s: %w", name, err)
		}
		name = rel
	}
	abs, err := f.safePath(name)
	if err != nil {
		return nil, err
	}
	return ReadFile(abs)
}

// ReadFile loads a snapshot from any path.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", path, err)
	}
	if s.CrawlTime.IsZero() {
		return nil, fmt.Errorf("archive: %s has no crawl_time", path)
	}
	return &s, nil
}

// Prune removes the oldest snapshots so at most keep remain and returns how
// many were removed.
func (f *FS) Prune(keep int) (int, error) {
	all, err := f.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for len(all)-removed > keep {
		if err := os.Remove(filepath.Join(f.root, all[removed].Name)); err != nil {
			return removed, fmt.Errorf("archive: prune: %w", err)
		}
		removed++
	}
	return removed, nil
}
