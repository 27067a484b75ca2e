package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/temoto/robotstxt"
)

func TestCache_Get(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	cache := NewCache(client, "TestBot/1.0")
	ctx := context.Background()

	host := server.URL[7:] // Remove "http://"

	rd, err := cache.Get(ctx, "http", host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rd == nil {
		t.Fatal("expected robots data, got nil")
	}

	rd2, err := cache.Get(ctx, "http", host)
	if err != nil {
		t.Fatalf("unexpected error on cached get: %v", err)
	}
	if rd2 != rd {
		t.Error("expected cached robots data to be the same instance")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected 1 robots.txt fetch, got %d", hits)
	}
}

func TestCache_Get_404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cache := NewCache(&http.Client{Timeout: 2 * time.Second}, "TestBot/1.0")

	ok, err := cache.AllowedURL(context.Background(), server.URL+"/rrc04/2025.11/updates.20251117.0005.gz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("missing robots.txt must allow everything")
	}
}

func TestCache_AllowedURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer server.Close()

	cache := NewCache(&http.Client{Timeout: 2 * time.Second}, "TestBot/1.0")
	ctx := context.Background()

	tests := []struct {
		path string
		want bool
	}{
		{"/rrc04/2025.11/updates.20251117.0005.gz", true},
		{"/private/updates.gz", false},
	}
	for _, tt := range tests {
		got, err := cache.AllowedURL(ctx, server.URL+tt.path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("AllowedURL(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestAllowed(t *testing.T) {
	rd, err := robotstxt.FromString("User-agent: ris-collect\nDisallow: /rrc04/\n\nUser-agent: *\nDisallow:\n")
	if err != nil {
		t.Fatal(err)
	}

	if Allowed(rd, "ris-collect", "/rrc04/2025.11/") {
		t.Error("expected ris-collect to be disallowed under /rrc04/")
	}
	if !Allowed(rd, "other-bot", "/rrc04/2025.11/") {
		t.Error("expected other agents to be allowed")
	}
}
