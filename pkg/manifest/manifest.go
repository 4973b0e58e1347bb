// Package manifest loads an upload batch described in a TOML file:
//
//	retry_budget = 3
//	retry_delay  = "1s"
//
//	[[upload]]
//	destination  = "https://bucket.s3.amazonaws.com/project/task/DJI_0001.JPG?X-Amz-Signature=..."
//	file         = "images/DJI_0001.JPG"
//	content_type = "image/jpeg"
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dronetm/upload-dispatcher/pkg/models"
)

// Manifest is the decoded TOML document
type Manifest struct {
	RetryBudget int     `toml:"retry_budget"`
	RetryDelay  string  `toml:"retry_delay"`
	Uploads     []Entry `toml:"upload"`

	dir string
}

// Entry is one image to upload
type Entry struct {
	Destination string `toml:"destination"`
	File        string `toml:"file"`
	ContentType string `toml:"content_type"`
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".png":  "image/png",
	".json": "application/json",
	".txt":  "text/plain",
}

// ContentTypeFor infers the content type of an image file from its extension
func ContentTypeFor(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return models.DefaultContentType
}

// Load decodes the manifest at path. Relative file paths resolve against its directory.
func Load(path string) (*Manifest, error) {
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown manifest keys: %v", undecoded)
	}
	m.dir = filepath.Dir(path)

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.RetryBudget < 0 {
		return fmt.Errorf("retry_budget must not be negative")
	}
	if _, err := m.Delay(); err != nil {
		return err
	}
	for i, u := range m.Uploads {
		if u.Destination == "" {
			return fmt.Errorf("upload %d: destination is required", i)
		}
		if u.File == "" {
			return fmt.Errorf("upload %d: file is required", i)
		}
	}
	return nil
}

// Delay returns retry_delay, or zero when unset
func (m *Manifest) Delay() (time.Duration, error) {
	if m.RetryDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(m.RetryDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid retry_delay %q: %w", m.RetryDelay, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("retry_delay must not be negative")
	}
	return d, nil
}

// Destinations returns the destination of every upload, in file order
func (m *Manifest) Destinations() []string {
	out := make([]string, len(m.Uploads))
	for i, u := range m.Uploads {
		out[i] = u.Destination
	}
	return out
}

// Payloads reads every referenced file into a payload, in file order
func (m *Manifest) Payloads() ([]models.Payload, error) {
	out := make([]models.Payload, len(m.Uploads))
	for i, u := range m.Uploads {
		path := u.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.dir, path)
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("upload %d: %w", i, err)
		}

		ct := u.ContentType
		if ct == "" {
			ct = ContentTypeFor(path)
		}
		out[i] = models.Payload{
			Name:        filepath.Base(path),
			ContentType: ct,
			Body:        body,
		}
	}
	return out, nil
}
