// Package fetch downloads RIS archive files into a local directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shadimotaali/first-full-paper/internal/circuitbreaker"
	"github.com/shadimotaali/first-full-paper/internal/httpclient"
	"github.com/shadimotaali/first-full-paper/internal/logging"
	"github.com/shadimotaali/first-full-paper/internal/rate"
	"github.com/shadimotaali/first-full-paper/internal/robots"
)

var (
	// ErrNotFound is returned when the archive has no file at the URL.
	ErrNotFound = errors.New("archive file not found")
	// ErrDisallowed is returned when robots.txt forbids the URL.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// Status labels the outcome of one file in FetchAll.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusExists     Status = "exists"
	StatusFailed     Status = "failed"
	StatusUnlisted   Status = "unlisted"
)

// Options tune a Fetcher. The zero value fetches each file once with no pacing.
type Options struct {
	MaxRetries int
	// Backoff builds the retry schedule; nil means exponential.
	Backoff func() backoff.BackOff
	Limiter *rate.PerHost
	Robots  *robots.Cache
	Log     *logging.Logger
	// OnFile is called once per name in FetchAll.
	OnFile func(name string, status Status, bytes int64)
}

type Fetcher struct {
	client *httpclient.ResilientClient
	opts   Options
	log    *logging.Logger
}

func New(client *httpclient.ResilientClient, opts Options) *Fetcher {
	log := opts.Log
	if log == nil {
		log = logging.Nop()
	}
	return &Fetcher{client: client, opts: opts, log: log}
}

// Download streams url into dst. The body is written to dst+".part" and renamed
// on success so an interrupted transfer never looks like a finished file.
func (f *Fetcher) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parse url: %w", err)
	}

	if f.opts.Robots != nil {
		ok, err := f.opts.Robots.AllowedURL(ctx, rawURL)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
	}

	var n int64
	op := func() error {
		if err := f.opts.Limiter.Wait(ctx, u.Host); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		n, err = f.downloadOnce(ctx, rawURL, dst)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, circuitbreaker.ErrOpenState) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	retries := f.opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	var sched backoff.BackOff = backoff.NewExponentialBackOff()
	if f.opts.Backoff != nil {
		sched = f.opts.Backoff()
	}
	b := backoff.WithContext(backoff.WithMaxRetries(sched, uint64(retries)), ctx)
	err = backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		f.log.Warnw("download attempt failed, retrying", "url", rawURL, "err", err, "wait", d)
	})
	return n, err
}

func (f *Fetcher) downloadOnce(ctx context.Context, rawURL, dst string) (int64, error) {
	resp, err := f.client.GetWithContext(ctx, rawURL)
	if err != nil {
		if httpclient.GetHTTPStatusCode(err) == http.StatusNotFound {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
		}
		return 0, err
	}
	defer resp.Body.Close()

	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}
	if err := os.Rename(part, dst); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("rename %s: %w", part, err)
	}
	return n, nil
}

// FetchAll downloads every name under baseURL into dir, in order. Files already
// present are reused and failures are logged and skipped. When listed is
// non-nil, names it does not contain are skipped without a request.
func (f *Fetcher) FetchAll(ctx context.Context, baseURL string, names []string, dir string, listed map[string]bool) []string {
	base := strings.TrimRight(baseURL, "/")
	var paths []string
	for _, name := range names {
		if ctx.Err() != nil {
			f.log.Warnw("fetch interrupted", "err", ctx.Err())
			break
		}
		dst := filepath.Join(dir, name)

		if _, err := os.Stat(dst); err == nil {
			f.log.Infow("already exists", "file", name)
			f.report(name, StatusExists, 0)
			paths = append(paths, dst)
			continue
		}
		if listed != nil && !listed[name] {
			f.log.Debugw("not in archive index, skipping", "file", name)
			f.report(name, StatusUnlisted, 0)
			continue
		}

		f.log.Infow("downloading", "file", name)
		n, err := f.Download(ctx, base+"/"+name, dst)
		if err != nil {
			f.log.Warnw("download failed", "file", name, "err", err)
			f.report(name, StatusFailed, 0)
			continue
		}
		f.log.Infow("downloaded", "file", name, "bytes", n)
		f.report(name, StatusDownloaded, n)
		paths = append(paths, dst)
	}
	return paths
}

func (f *Fetcher) report(name string, s Status, n int64) {
	if f.opts.OnFile != nil {
		f.opts.OnFile(name, s, n)
	}
}
