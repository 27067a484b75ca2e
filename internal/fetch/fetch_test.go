package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shadimotaali/first-full-paper/internal/httpclient"
	"github.com/shadimotaali/first-full-paper/internal/robots"
)

func newTestFetcher(srv *httptest.Server, opts Options) *Fetcher {
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	}
	return New(httpclient.NewResilientClient(srv.Client(), "TestBot/1.0", nil), opts)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mrt-bytes"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "updates.20251117.0005.gz")
	n, err := newTestFetcher(srv, Options{}).Download(context.Background(), srv.URL+"/updates.20251117.0005.gz", dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len("mrt-bytes")) {
		t.Errorf("expected %d bytes, got %d", len("mrt-bytes"), n)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "mrt-bytes" {
		t.Errorf("unexpected file content %q", b)
	}
	if _, err := os.Stat(dst + ".part"); !os.IsNotExist(err) {
		t.Error("expected .part file to be gone")
	}
}

func TestDownload_NotFound(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "missing.gz")
	_, err := newTestFetcher(srv, Options{MaxRetries: 3}).Download(context.Background(), srv.URL+"/missing.gz", dst)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("404 must not be retried, got %d requests", n)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("no file must be left for a failed download")
	}
}

func TestDownload_NoRetryByDefault(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv, Options{}).Download(context.Background(), srv.URL+"/x.gz", filepath.Join(t.TempDir(), "x.gz"))
	if err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected a single attempt, got %d", n)
	}
}

func TestDownload_RetriesThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "x.gz")
	_, err := newTestFetcher(srv, Options{MaxRetries: 3}).Download(context.Background(), srv.URL+"/x.gz", dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestDownload_RobotsDisallow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		t.Errorf("unexpected request for %s", r.URL.Path)
	}))
	defer srv.Close()

	opts := Options{Robots: robots.NewCache(srv.Client(), "TestBot/1.0")}
	_, err := newTestFetcher(srv, opts).Download(context.Background(), srv.URL+"/x.gz", filepath.Join(t.TempDir(), "x.gz"))
	if !errors.Is(err, ErrDisallowed) {
		t.Errorf("expected ErrDisallowed, got %v", err)
	}
}

func TestFetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rrc04/updates.a.gz", "/rrc04/updates.c.gz":
			w.Write([]byte(r.URL.Path))
		case "/rrc04/updates.b.gz":
			t.Error("existing file must not be fetched again")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "updates.b.gz"), []byte("cached"), 0644); err != nil {
		t.Fatal(err)
	}

	statuses := map[string]Status{}
	f := newTestFetcher(srv, Options{OnFile: func(name string, s Status, _ int64) { statuses[name] = s }})
	names := []string{"updates.a.gz", "updates.b.gz", "updates.missing.gz", "updates.c.gz"}
	paths := f.FetchAll(context.Background(), srv.URL+"/rrc04/", names, dir, nil)

	want := []string{
		filepath.Join(dir, "updates.a.gz"),
		filepath.Join(dir, "updates.b.gz"),
		filepath.Join(dir, "updates.c.gz"),
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path %d: expected %s, got %s", i, want[i], paths[i])
		}
	}
	if statuses["updates.b.gz"] != StatusExists || statuses["updates.missing.gz"] != StatusFailed || statuses["updates.a.gz"] != StatusDownloaded {
		t.Errorf("unexpected statuses %v", statuses)
	}
}

func TestFetchAll_ListedFilter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	paths := newTestFetcher(srv, Options{}).FetchAll(context.Background(), srv.URL, []string{"a.gz", "b.gz"}, t.TempDir(), map[string]bool{"b.gz": true})
	if len(paths) != 1 || !strings.HasSuffix(paths[0], "b.gz") {
		t.Errorf("unexpected paths %v", paths)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

const listing = `<html><body><h1>Index of /rrc04/2025.11</h1><pre>
<a href="?C=N;O=D">Name</a>
<a href="/rrc04/">Parent Directory</a>
<a href="updates.20251117.0005.gz">updates.20251117.0005.gz</a>
<a href="updates.20251117.0010.gz">updates.20251117.0010.gz</a>
<a href="/rrc04/2025.11/bview.20251117.0000.gz">bview.20251117.0000.gz</a>
<a href="sub/">sub/</a>
<a href="https://www.ripe.net/">RIPE NCC</a>
</pre></body></html>`

func TestParseLinks(t *testing.T) {
	base, _ := url.Parse("https://data.ris.ripe.net/rrc04/2025.11/")
	names, err := ParseLinks(base, strings.NewReader(listing))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"updates.20251117.0005.gz", "updates.20251117.0010.gz", "bview.20251117.0000.gz"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("name %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestListIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rrc04/2025.11/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(listing))
	}))
	defer srv.Close()

	set, err := newTestFetcher(srv, Options{}).ListIndex(context.Background(), srv.URL+"/rrc04/2025.11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set["updates.20251117.0010.gz"] || set["sub"] {
		t.Errorf("unexpected index %v", set)
	}
}
