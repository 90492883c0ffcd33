package requestcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

// Test runs the behaviour every Cache implementation must satisfy against c.
func Test(ctx context.Context, t *testing.T, c Cache) {
	// Subtests must either clean up after themselves or use unique keys
	t.Run("testFindMissing", func(t *testing.T) { testFindMissing(ctx, t, c) })
	t.Run("testWriteFindEvict", func(t *testing.T) { testWriteFindEvict(ctx, t, c) })
	t.Run("testOverwrite", func(t *testing.T) { testOverwrite(ctx, t, c) })
	t.Run("testNoExpiry", func(t *testing.T) { testNoExpiry(ctx, t, c) })
	t.Run("testExpired", func(t *testing.T) { testExpired(ctx, t, c) })
	t.Run("testEvictMissing", func(t *testing.T) { testEvictMissing(ctx, t, c) })
	t.Run("testConcurrentAccess", func(t *testing.T) { testConcurrentAccess(ctx, t, c) })
}

func testFindMissing(ctx context.Context, t *testing.T, c Cache) {
	_, err := c.Find(ctx, "https://rp.example/testFindMissing")
	if !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
}

func testWriteFindEvict(ctx context.Context, t *testing.T, c Cache) {
	exp := time.Now().Add(1 * time.Hour).Truncate(time.Second)
	want := &CachedRequest{
		RequestURI: "https://rp.example/testWriteFindEvict",
		Request:    "eyJhbGciOiJub25lIn0.eyJqdGkiOiIxIn0.",
		Hash:       "wsGQ1LcjaH5qfMdPIXzbWgGMkCdIpjIjaWWbJmSDzHo",
		Expiry:     &exp,
	}

	if err := c.Write(ctx, want); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	got, err := c.Find(ctx, want.RequestURI)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("found entry differs from written: %s", diff)
	}
	if got.HasExpired(time.Now()) {
		t.Error("entry should not have expired")
	}

	if err := c.Evict(ctx, want.RequestURI); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	_, err = c.Find(ctx, want.RequestURI)
	if !IsNotFoundErr(err) {
		t.Fatalf("Want: not found error, got %v", err)
	}
}

func testOverwrite(ctx context.Context, t *testing.T, c Cache) {
	uri := "https://rp.example/testOverwrite"

	for i := 0; i < 3; i++ {
		if err := c.Write(ctx, &CachedRequest{
			RequestURI: uri,
			Request:    fmt.Sprintf("request-%d", i),
			Hash:       fmt.Sprintf("hash-%d", i),
		}); err != nil {
			t.Fatalf("Want: no error, got %v", err)
		}
	}

	got, err := c.Find(ctx, uri)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if got.Request != "request-2" || got.Hash != "hash-2" {
		t.Errorf("want the last write to win, got %#v", got)
	}

	if err := c.Evict(ctx, uri); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
}

func testNoExpiry(ctx context.Context, t *testing.T, c Cache) {
	want := &CachedRequest{
		RequestURI: "https://rp.example/testNoExpiry",
		Request:    "request",
		Hash:       "hash",
	}
	if err := c.Write(ctx, want); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	got, err := c.Find(ctx, want.RequestURI)
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if got.Expiry != nil {
		t.Errorf("want no expiry, got %s", got.Expiry)
	}
	if got.HasExpired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Error("entry without expiry should never expire")
	}

	if err := c.Evict(ctx, want.RequestURI); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
}

func testExpired(ctx context.Context, t *testing.T, c Cache) {
	exp := time.Now().Add(-1 * time.Minute)
	uri := "https://rp.example/testExpired"

	if err := c.Write(ctx, &CachedRequest{
		RequestURI: uri,
		Request:    "request",
		Hash:       "hash",
		Expiry:     &exp,
	}); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	// Implementations can either drop expired entries, or return them for
	// the caller to check.
	got, err := c.Find(ctx, uri)
	switch {
	case IsNotFoundErr(err):
	case err != nil:
		t.Fatalf("Want: no error, got %v", err)
	case !got.HasExpired(time.Now()):
		t.Errorf("expired entry returned as fresh: %#v", got)
	}

	if err := c.Evict(ctx, uri); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
}

func testEvictMissing(ctx context.Context, t *testing.T, c Cache) {
	if err := c.Evict(ctx, "https://rp.example/testEvictMissing"); err != nil {
		t.Errorf("Want: no error, got %v", err)
	}
}

func testConcurrentAccess(ctx context.Context, t *testing.T, c Cache) {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < 10; i++ {
		uri := fmt.Sprintf("https://rp.example/testConcurrentAccess/%d", i%3)
		req := &CachedRequest{
			RequestURI: uri,
			Request:    fmt.Sprintf("request-%d", i),
			Hash:       fmt.Sprintf("hash-%d", i),
		}
		g.Go(func() error {
			if err := c.Write(gctx, req); err != nil {
				return err
			}
			if _, err := c.Find(gctx, req.RequestURI); err != nil && !IsNotFoundErr(err) {
				return err
			}
			return c.Evict(gctx, req.RequestURI)
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := c.Evict(ctx, fmt.Sprintf("https://rp.example/testConcurrentAccess/%d", i)); err != nil {
			t.Fatal(err)
		}
	}
}
