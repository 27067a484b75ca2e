package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// ListIndex fetches the archive's HTML directory listing at dirURL and returns
// the set of file names it links to.
func (f *Fetcher) ListIndex(ctx context.Context, dirURL string) (map[string]bool, error) {
	if !strings.HasSuffix(dirURL, "/") {
		dirURL += "/"
	}
	base, err := url.Parse(dirURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if err := f.opts.Limiter.Wait(ctx, base.Host); err != nil {
		return nil, err
	}
	resp, err := f.client.GetWithContext(ctx, dirURL)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dirURL, err)
	}
	defer resp.Body.Close()

	links, err := ParseLinks(base, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", dirURL, err)
	}
	out := make(map[string]bool, len(links))
	for _, l := range links {
		out[l] = true
	}
	return out, nil
}

// ParseLinks returns the base names of every <a href> that resolves to a file
// directly inside base. Parent links, sort links and subdirectories are dropped.
func ParseLinks(base *url.URL, body io.Reader) ([]string, error) {
	z := html.NewTokenizer(body)
	var out []string
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				return out, nil
			}
			return out, z.Err()
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		t := z.Token()
		if !strings.EqualFold(t.Data, "a") {
			continue
		}
		for _, a := range t.Attr {
			if !strings.EqualFold(a.Key, "href") {
				continue
			}
			if name, ok := fileIn(base, a.Val); ok {
				out = append(out, name)
			}
		}
	}
}

func fileIn(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || ref.RawQuery != "" {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Host != base.Host || strings.HasSuffix(u.Path, "/") {
		return "", false
	}
	dir, name := path.Split(u.Path)
	if dir != base.Path || name == "" {
		return "", false
	}
	return name, true
}
