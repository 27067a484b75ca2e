// Package robots caches robots.txt rules for archive hosts.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/temoto/robotstxt"
)

type Cache struct {
	hc  *http.Client
	lru *expirable.LRU[string, *robotstxt.RobotsData]
	ua  string
}

func NewCache(hc *http.Client, ua string) *Cache {
	return &Cache{
		hc:  hc,
		lru: expirable.NewLRU[string, *robotstxt.RobotsData](256, nil, 24*time.Hour),
		ua:  ua,
	}
}

// Get returns the rules for scheme://host. Unreachable or missing robots.txt allows everything.
func (c *Cache) Get(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	key := scheme + "://" + host
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	rd, err := c.fetch(ctx, key+"/robots.txt")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rd, _ = robotstxt.FromBytes(nil)
	}
	c.lru.Add(key, rd)
	return rd, nil
}

func (c *Cache) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return robotstxt.FromBytes(nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("robots.txt: %s", resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, err
	}
	return robotstxt.FromBytes(b)
}

// AllowedURL reports whether the cache's user agent may fetch rawURL.
func (c *Cache) AllowedURL(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	rd, err := c.Get(ctx, u.Scheme, u.Host)
	if err != nil {
		return false, err
	}
	return Allowed(rd, c.ua, u.EscapedPath()), nil
}

func Allowed(rd *robotstxt.RobotsData, ua, path string) bool {
	g := rd.FindGroup(ua)
	if g == nil {
		g = rd.FindGroup("*")
	}
	if g == nil {
		return true
	}
	return g.Test(path)
}
