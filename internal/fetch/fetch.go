package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Error is a failed input acquisition. The supervisor core does not retry
// fetches; the error is surfaced to the caller.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// BBox is the bounding geographic box inputs are fetched for.
type BBox struct {
	Left   float64 `json:"left" mapstructure:"left"`
	Bottom float64 `json:"bottom" mapstructure:"bottom"`
	Right  float64 `json:"right" mapstructure:"right"`
	Top    float64 `json:"top" mapstructure:"top"`
}

func (b BBox) Validate() error {
	if b.Left >= b.Right || b.Bottom >= b.Top {
		return fmt.Errorf("degenerate bounding box %v", b)
	}
	if b.Left < -180 || b.Right > 180 || b.Bottom < -90 || b.Top > 90 {
		return fmt.Errorf("bounding box %v outside WGS84 range", b)
	}
	return nil
}

func (b BBox) query() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.Left, b.Bottom, b.Right, b.Top)
}

// Client downloads the map extract and transit feeds for a bounding box.
// Zero value is usable; base URLs default to the public APIs.
type Client struct {
	HTTP            *http.Client
	OverpassBase    string
	TransitlandBase string
	Parallel        int // concurrent GTFS downloads, default 4
	MinOSMSize      int64
}

const (
	defaultOverpassBase    = "https://overpass-api.de"
	defaultTransitlandBase = "https://transit.land"
	defaultParallel        = 4
)

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Minute}
}

func (c *Client) overpass() string {
	if c.OverpassBase != "" {
		return c.OverpassBase
	}
	return defaultOverpassBase
}

func (c *Client) transitland() string {
	if c.TransitlandBase != "" {
		return c.TransitlandBase
	}
	return defaultTransitlandBase
}

// OSM exports the bounding box from the Overpass API into dir and returns the
// path of the .osm file. Undersized responses are treated as failures; the
// API answers errors with tiny bodies and status 200 at times.
func (c *Client) OSM(ctx context.Context, dir string, bbox BBox) (string, error) {
	url := fmt.Sprintf("%s/api/map?bbox=%s", c.overpass(), bbox.query())
	out := filepath.Join(dir, fmt.Sprintf("map-%s.osm", time.Now().Format("2006-01-02T15-04-05")))
	if err := c.SaveFile(ctx, url, out); err != nil {
		return "", err
	}
	if min := c.MinOSMSize; min > 0 {
		if fi, err := os.Stat(out); err == nil && fi.Size() < min {
			_ = os.Remove(out)
			return "", &Error{URL: url, Err: fmt.Errorf("OSM extract only %d bytes, below minimum %d", fi.Size(), min)}
		}
	}
	slog.Info("downloaded OSM extract", "path", out)
	return out, nil
}

type feedIndex struct {
	Feeds []struct {
		URL string `json:"url"`
	} `json:"feeds"`
}

// GTFS queries the transit.land datastore for feeds intersecting the bounding
// box and downloads them into dir in parallel. Feeds without a .zip suffix
// are renamed, which is what the engine expects. Returns the local paths;
// an empty feed index is an Error.
func (c *Client) GTFS(ctx context.Context, dir string, bbox BBox) ([]string, error) {
	url := fmt.Sprintf("%s/api/v1/feeds?bbox=%s", c.transitland(), bbox.query())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	var idx feedIndex
	if err := json.NewDecoder(resp.Body).Decode(&idx); err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	if len(idx.Feeds) == 0 {
		return nil, &Error{URL: url, Err: fmt.Errorf("no transit feeds for bbox %s", bbox.query())}
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &Error{URL: url, Err: err}
	}

	parallel := c.Parallel
	if parallel <= 0 {
		parallel = defaultParallel
	}
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var paths []string
	for _, feed := range idx.Feeds {
		feedURL := feed.URL
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out := filepath.Join(dir, feedFileName(feedURL))
			if err := c.SaveFile(ctx, feedURL, out); err != nil {
				slog.Warn("transit feed download failed", "url", feedURL, "error", err)
				return
			}
			mu.Lock()
			paths = append(paths, out)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(paths) == 0 {
		return nil, &Error{URL: url, Err: fmt.Errorf("all %d feed downloads failed", len(idx.Feeds))}
	}
	slog.Info("downloaded transit feeds", "count", len(paths), "dir", dir)
	return paths, nil
}

// SaveFile streams url to outPath, creating parent directories as needed.
func (c *Client) SaveFile(ctx context.Context, url, outPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{URL: url, Err: err}
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return &Error{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &Error{URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return &Error{URL: url, Err: err}
	}
	f, err := os.Create(outPath) // #nosec G304 -- path is derived from validated config
	if err != nil {
		return &Error{URL: url, Err: err}
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(outPath)
		return &Error{URL: url, Err: err}
	}
	return f.Close()
}

// feedFileName derives a local file name from a feed URL, forcing a .zip
// suffix the way the original feed tooling expects.
func feedFileName(feedURL string) string {
	name := path.Base(strings.TrimSuffix(feedURL, "/"))
	if name == "" || name == "." || name == "/" {
		name = "feed"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}
	return name
}
