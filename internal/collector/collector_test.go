package collector

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/shadimotaali/first-full-paper/internal/config"
	"github.com/shadimotaali/first-full-paper/internal/dump"
	"github.com/shadimotaali/first-full-paper/internal/fetch"
	"github.com/shadimotaali/first-full-paper/internal/httpclient"
	"github.com/shadimotaali/first-full-paper/internal/record"
)

type fakeDumper struct {
	out map[string]string
}

func (f *fakeDumper) Dump(_ context.Context, path string) (string, error) {
	s, ok := f.out[filepath.Base(path)]
	if !ok {
		return "", dump.ErrToolMissing
	}
	return s, nil
}

type fakeStore struct {
	runID string
	rows  int
	err   error
}

func (s *fakeStore) Insert(_ context.Context, runID string, records []record.Record) (int, error) {
	s.runID = runID
	if s.err != nil {
		return 0, s.err
	}
	s.rows = len(records)
	return len(records), nil
}

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(s))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// archive serves the first two of three five-minute files; the third is missing.
func archive(t *testing.T) *httptest.Server {
	files := map[string][]byte{
		"/updates.20251117.0005.gz": gz(t, "mrt-a"),
		"/updates.20251117.0010.gz": gz(t, "mrt-b"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testCollector(t *testing.T, baseURL string, dumper dump.Dumper) (*Collector, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		BaseURL:   baseURL,
		RootDir:   t.TempDir(),
		Start:     "20251117.0005",
		End:       "20251117.0015",
		CSVOutput: "out.csv",
	}
	cfg.SetDefaults()

	var out bytes.Buffer
	return &Collector{
		Config:     cfg,
		Fetcher:    fetch.New(httpclient.NewResilientClient(nil, "test", nil), fetch.Options{}),
		Aggregator: &dump.Aggregator{Dumper: dumper},
		Out:        &out,
		RunID:      "run-1",
	}, &out
}

func TestRun_EndToEnd(t *testing.T) {
	srv := archive(t)
	dumper := &fakeDumper{out: map[string]string{
		"updates.20251117.0005": "BGP4MP|1763337900|A|1.2.3.4|65001|10.0.0.0/24|65001 65002|IGP|1.2.3.4|0|0|65001:1|NAG||\n" +
			"garbage line\n",
		"updates.20251117.0010": "BGP4MP|1763338200|W|1.2.3.4|65001|10.0.0.0/24\n",
	}}
	c, out := testCollector(t, srv.URL, dumper)
	store := &fakeStore{}
	c.Store = store

	rep, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Requested != 3 || len(rep.Files) != 2 {
		t.Errorf("expected 3 requested / 2 fetched, got %d / %d", rep.Requested, len(rep.Files))
	}
	if rep.Records != 2 || rep.Written != 2 {
		t.Errorf("expected 2 records written, got %d / %d", rep.Records, rep.Written)
	}
	if rep.Summary.Announcements != 1 || rep.Summary.Withdrawals != 1 {
		t.Errorf("unexpected summary %+v", rep.Summary)
	}
	if store.rows != 2 || store.runID != "run-1" {
		t.Errorf("expected 2 rows stored under run-1, got %d under %q", store.rows, store.runID)
	}
	if rep.Problems == nil || !strings.Contains(rep.Problems.Error(), "1 of 3 files unavailable") {
		t.Errorf("expected missing file problem, got %v", rep.Problems)
	}

	b, err := os.ReadFile(filepath.Join(c.Config.RootDir, "out.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(b), "\r\n"), "\r\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", lines)
	}
	if !strings.HasPrefix(lines[0], "MRT_Type,Time,Entry_Type") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "BGP4MP,2025-11-17 00:05:00,A,") {
		t.Errorf("unexpected first row %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "BGP4MP,2025-11-17 00:10:00,W,") {
		t.Errorf("unexpected second row %q", lines[2])
	}

	if _, err := os.Stat(c.Config.TempPath()); !os.IsNotExist(err) {
		t.Error("expected temp dir removed")
	}
	for _, want := range []string{"Total files to download: 3", "Total files available: 2", "Statistics:", "Sample announcement:", "All files located in:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected report to contain %q", want)
		}
	}
}

func TestRun_ReusesExistingFiles(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, _ := testCollector(t, srv.URL, &fakeDumper{out: map[string]string{
		"updates.20251117.0005": "BGP4MP|1763337900|W|1.2.3.4|65001|10.0.0.0/24\n",
	}})
	c.Config.End = "20251117.0005"
	os.MkdirAll(c.Config.DownloadPath(), 0o755)
	os.WriteFile(filepath.Join(c.Config.DownloadPath(), "updates.20251117.0005.gz"), gz(t, "x"), 0o644)

	rep, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hits != 0 {
		t.Errorf("expected no requests for existing file, got %d", hits)
	}
	if rep.Records != 1 {
		t.Errorf("expected 1 record, got %d", rep.Records)
	}
}

func TestRun_NoRecords(t *testing.T) {
	srv := archive(t)
	c, out := testCollector(t, srv.URL, &fakeDumper{})

	rep, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("no records is not an error, got %v", err)
	}
	if rep.Records != 0 || rep.Written != 0 {
		t.Errorf("unexpected report %+v", rep)
	}
	if _, err := os.Stat(c.Config.OutputPath()); !os.IsNotExist(err) {
		t.Error("expected no output file")
	}
	if !strings.Contains(out.String(), "Possible issues:") {
		t.Errorf("expected probable causes, got:\n%s", out.String())
	}
}

func TestRun_WriteFailure(t *testing.T) {
	srv := archive(t)
	c, _ := testCollector(t, srv.URL, &fakeDumper{out: map[string]string{
		"updates.20251117.0005": "BGP4MP|1763337900|W|1.2.3.4|65001|10.0.0.0/24\n",
	}})
	c.Config.CSVOutput = filepath.Join("missing", "dir", "out.csv")
	store := &fakeStore{}
	c.Store = store

	_, err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected write error")
	}
	if store.rows != 0 {
		t.Error("expected no insert after a failed write")
	}
	if _, err := os.Stat(c.Config.TempPath()); !os.IsNotExist(err) {
		t.Error("expected temp dir removed even on failure")
	}
}

func TestRun_StoreFailureIsNotFatal(t *testing.T) {
	srv := archive(t)
	c, _ := testCollector(t, srv.URL, &fakeDumper{out: map[string]string{
		"updates.20251117.0005": "BGP4MP|1763337900|W|1.2.3.4|65001|10.0.0.0/24\n",
	}})
	c.Store = &fakeStore{err: errors.New("connection reset")}

	rep, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("expected store failure to be non-fatal, got %v", err)
	}
	if rep.Problems == nil || !strings.Contains(rep.Problems.Error(), "connection reset") {
		t.Errorf("expected store problem recorded, got %v", rep.Problems)
	}
}

func TestNewDumper(t *testing.T) {
	cfg := config.Defaults()
	if _, ok := mustDumper(t, cfg).(*dump.ExecDumper); !ok {
		t.Error("expected exec dumper by default")
	}
	cfg.DumpBackend = "native"
	if _, ok := mustDumper(t, cfg).(*dump.NativeDumper); !ok {
		t.Error("expected native dumper")
	}
	cfg.DumpBackend = "bogus"
	if _, err := newDumper(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func mustDumper(t *testing.T, cfg *config.Config) dump.Dumper {
	t.Helper()
	d, err := newDumper(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
