package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// UploadManifest is a local record of files this machine already uploaded,
// keyed by form folder name. It is only a fast pre-check: the destination
// listing stays authoritative, so losing or corrupting the manifest costs
// nothing but listing time.
type UploadManifest struct {
	Uploads map[string][]ManifestEntry `json:"uploads"`
}

type ManifestEntry struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

func getManifestPath(runFolder string) string {
	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".kobo-sharepoint-pipeline", "cache")
	os.MkdirAll(cacheDir, 0755)
	return filepath.Join(cacheDir, fmt.Sprintf("%s_manifest.json", runFolder))
}

func loadManifest(runFolder string) (*UploadManifest, error) {
	manifestPath := getManifestPath(runFolder)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty manifest if file doesn't exist
			return &UploadManifest{
				Uploads: make(map[string][]ManifestEntry),
			}, nil
		}
		return nil, err
	}

	var manifest UploadManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		// If manifest is corrupted, return empty manifest
		return &UploadManifest{
			Uploads: make(map[string][]ManifestEntry),
		}, nil
	}

	if manifest.Uploads == nil {
		manifest.Uploads = make(map[string][]ManifestEntry)
	}

	return &manifest, nil
}

func (m *UploadManifest) save(runFolder string) error {
	manifestPath := getManifestPath(runFolder)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(manifestPath, data, 0644)
}

// namesFor returns the recorded file names for a form folder.
func (m *UploadManifest) namesFor(formFolder string) []string {
	entries := m.Uploads[formFolder]
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func (m *UploadManifest) record(formFolder, name string, size int64) {
	m.Uploads[formFolder] = append(m.Uploads[formFolder], ManifestEntry{
		Name:      name,
		Size:      size,
		Timestamp: time.Now(),
	})
}
