package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testBBox = BBox{Left: -122.8, Bottom: 45.4, Right: -122.5, Top: 45.6}

func TestBBoxValidate(t *testing.T) {
	if err := testBBox.Validate(); err != nil {
		t.Fatalf("valid bbox rejected: %v", err)
	}
	// zero width, inverted, off the antimeridian, over the pole
	bad := []BBox{
		{Left: 1, Right: 1, Bottom: 0, Top: 1},
		{Left: 2, Right: 1, Bottom: 0, Top: 1},
		{Left: -200, Right: 0, Bottom: 0, Top: 1},
		{Left: 0, Right: 1, Bottom: 89, Top: 95},
	}
	for _, b := range bad {
		if err := b.Validate(); err == nil {
			t.Fatalf("bbox %v should be rejected", b)
		}
	}
}

func TestOSMDownload(t *testing.T) {
	body := strings.Repeat("<osm/>", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/map") {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("bbox") == "" {
			http.Error(w, "missing bbox", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := &Client{OverpassBase: srv.URL, MinOSMSize: 10}
	path, err := c.OSM(context.Background(), dir, testBBox)
	if err != nil {
		t.Fatalf("OSM: %v", err)
	}
	if filepath.Ext(path) != ".osm" {
		t.Fatalf("unexpected extract name %q", path)
	}
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil || string(data) != body {
		t.Fatalf("extract content wrong: err=%v len=%d", err, len(data))
	}
}

func TestOSMUndersizedResponseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("err")) // tiny body with status 200
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := &Client{OverpassBase: srv.URL, MinOSMSize: 1024}
	_, err := c.OSM(context.Background(), dir, testBBox)
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("want *Error, got %v", err)
	}
	// The undersized file must not linger.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".osm") {
			t.Fatalf("undersized extract left behind: %s", e.Name())
		}
	}
}

func TestGTFSDownloadsFeedsInParallel(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	mux.HandleFunc("/api/v1/feeds", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("bbox") == "" {
			http.Error(w, "missing bbox", http.StatusBadRequest)
			return
		}
		idx := map[string]any{"feeds": []map[string]string{
			{"url": srv.URL + "/feeds/alpha.zip"},
			{"url": srv.URL + "/feeds/beta"}, // no .zip suffix
			{"url": srv.URL + "/feeds/broken"},
		}}
		_ = json.NewEncoder(w).Encode(idx)
	})
	mux.HandleFunc("/feeds/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "broken") {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = fmt.Fprint(w, "PK feed bytes")
	})

	dir := t.TempDir()
	c := &Client{TransitlandBase: srv.URL, Parallel: 2}
	paths, err := c.GTFS(context.Background(), dir, testBBox)
	if err != nil {
		t.Fatalf("GTFS: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("want 2 feeds, got %v", paths)
	}
	for _, p := range paths {
		// Feeds are always stored with a .zip suffix.
		if !strings.HasSuffix(p, ".zip") {
			t.Fatalf("feed without .zip suffix: %s", p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("feed not on disk: %v", err)
		}
	}
}

func TestGTFSEmptyIndexFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"feeds":[]}`)
	}))
	defer srv.Close()

	c := &Client{TransitlandBase: srv.URL}
	if _, err := c.GTFS(context.Background(), t.TempDir(), testBBox); err == nil {
		t.Fatalf("empty feed index should fail")
	}
}

func TestGTFSAllDownloadsFailedFails(t *testing.T) {
	var mux http.ServeMux
	srv := httptest.NewServer(&mux)
	defer srv.Close()
	mux.HandleFunc("/api/v1/feeds", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"feeds":[{"url":"`+srv.URL+`/feeds/x.zip"}]}`)
	})
	mux.HandleFunc("/feeds/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	c := &Client{TransitlandBase: srv.URL}
	if _, err := c.GTFS(context.Background(), t.TempDir(), testBBox); err == nil {
		t.Fatalf("zero fetched feeds should fail")
	}
}

func TestSaveFileNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := &Client{}
	err := c.SaveFile(context.Background(), srv.URL, filepath.Join(t.TempDir(), "out"))
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("want *Error, got %v", err)
	}
}

func TestFeedFileName(t *testing.T) {
	cases := map[string]string{
		"https://example.com/feeds/trimet.zip": "trimet.zip",
		"https://example.com/feeds/trimet":     "trimet.zip",
		"https://example.com/feeds/trimet.ZIP": "trimet.ZIP",
		"https://example.com/":                 "example.com.zip",
	}
	for in, want := range cases {
		if got := feedFileName(in); got != want {
			t.Fatalf("feedFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
