// Package checksum digests catalog records and snapshot files with SHA-256.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/starford/rankwatch/internal/models"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// File returns the digest of the file at path and its size.
func File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("checksum: open: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("checksum: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// recordContent is the part of a record that counts as a content change.
// Link is the identity and rank moves every crawl, so both are left out.
type recordContent struct {
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	AvatarURL       string                `json:"avatar_url"`
	Price           string                `json:"price"`
	Author          string                `json:"author"`
	Tags            []string              `json:"tags"`
	Stats           map[string]string     `json:"stats"`
	Version         string                `json:"version"`
	LastUpdatedText string                `json:"last_updated_text"`
	ExternalLinks   []models.ExternalLink `json:"external_links"`
}

// Record digests the mutable, non-rank fields of r. Map keys are encoded in
// sorted order, so equal records always hash the same.
func Record(r models.Record) string {
	data, _ := json.Marshal(recordContent{
		Name:            r.Name,
		Description:     r.Description,
		AvatarURL:       r.AvatarURL,
		Price:           r.Price,
		Author:          r.Author,
		Tags:            r.Tags,
		Stats:           r.Stats,
		Version:         r.Version,
		LastUpdatedText: r.LastUpdatedText,
		ExternalLinks:   r.ExternalLinks,
	})
	return Sum(data)
}
