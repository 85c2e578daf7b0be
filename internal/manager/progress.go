package manager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// progressFileName sits in the graph directory and records which setup stages
// completed, so a re-run skips downloads and builds that already happened.
const progressFileName = "tripsitter.json"

type progress struct {
	OSMDownloadedAt  *time.Time `json:"osm_downloaded_at"`
	GTFSDownloadedAt *time.Time `json:"gtfs_downloaded_at"`
	GraphBuiltAt     *time.Time `json:"graph_built_at"`
}

func loadProgress(graphDir string) *progress {
	p := &progress{}
	data, err := os.ReadFile(filepath.Join(graphDir, progressFileName)) // #nosec G304
	if err != nil {
		return p
	}
	// A corrupt progress file just means stages re-run.
	_ = json.Unmarshal(data, p)
	return p
}

func (p *progress) save(graphDir string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(graphDir, progressFileName), data, 0o600)
}

func now() *time.Time {
	t := time.Now()
	return &t
}
