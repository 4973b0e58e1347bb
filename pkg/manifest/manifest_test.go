package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "images", "DJI_0001.JPG"), "first")
	writeFile(t, filepath.Join(dir, "images", "ortho.tif"), "second")
	writeFile(t, filepath.Join(dir, "manifest.toml"), `
retry_budget = 4
retry_delay = "250ms"

[[upload]]
destination = "https://uploads.example.com/task-1/DJI_0001.JPG"
file = "images/DJI_0001.JPG"

[[upload]]
destination = "s3://imagery/task-1/ortho.tif"
file = "images/ortho.tif"
content_type = "application/x-geotiff"
`)

	m, err := Load(filepath.Join(dir, "manifest.toml"))
	require.NoError(t, err)

	assert.Equal(t, 4, m.RetryBudget)
	delay, err := m.Delay()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, delay)

	assert.Equal(t, []string{
		"https://uploads.example.com/task-1/DJI_0001.JPG",
		"s3://imagery/task-1/ortho.tif",
	}, m.Destinations())

	payloads, err := m.Payloads()
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "DJI_0001.JPG", payloads[0].Name)
	assert.Equal(t, "image/jpeg", payloads[0].ContentType)
	assert.Equal(t, []byte("first"), payloads[0].Body)
	assert.Equal(t, "application/x-geotiff", payloads[1].ContentType)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", "retry_budget = "},
		{"unknown key", "retries = 3"},
		{"negative budget", "retry_budget = -1"},
		{"bad delay", `retry_delay = "later"`},
		{"missing destination", "[[upload]]\nfile = \"a.jpg\""},
		{"missing file", "[[upload]]\ndestination = \"https://a/b.jpg\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "manifest.toml")
			writeFile(t, path, tt.content)

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestPayloadsMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "manifest.toml"), "[[upload]]\ndestination = \"https://a/b.jpg\"\nfile = \"missing.jpg\"\n")

	m, err := Load(filepath.Join(dir, "manifest.toml"))
	require.NoError(t, err)

	_, err = m.Payloads()
	assert.ErrorContains(t, err, "upload 0")
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentTypeFor("DJI_0001.JPG"))
	assert.Equal(t, "image/tiff", ContentTypeFor("dem.TIFF"))
	assert.Equal(t, "application/json", ContentTypeFor("flightplan.json"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("log.bin"))
}
