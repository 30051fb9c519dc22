package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_InvalidateByTag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	s.Set(ctx, "/api/posts", []byte("list"), TagPosts)
	s.Set(ctx, "/api/posts/hello", []byte("one"), TagPosts, PostTag("hello"))
	s.Set(ctx, "/api/posts/archive", []byte("arch"), TagArchive)

	if v, ok := s.Get(ctx, "/api/posts"); !ok || string(v) != "list" {
		t.Fatalf("Get() = %q, %v", v, ok)
	}

	if n := s.Invalidate(ctx, PostTag("hello")); n != 1 {
		t.Errorf("Invalidate(post:hello) = %d, want 1", n)
	}
	if _, ok := s.Get(ctx, "/api/posts/hello"); ok {
		t.Error("post entry survived invalidation")
	}
	if _, ok := s.Get(ctx, "/api/posts"); !ok {
		t.Error("listing dropped by an unrelated tag")
	}

	if n := s.Invalidate(ctx, TagPosts, TagArchive); n != 2 {
		t.Errorf("Invalidate(posts, archive) = %d, want 2", n)
	}
	if _, ok := s.Get(ctx, "/api/posts/archive"); ok {
		t.Error("archive survived invalidation")
	}
	if n := s.Invalidate(ctx, TagPosts); n != 0 {
		t.Errorf("second Invalidate() = %d, want 0", n)
	}
}

func TestMemory_SetReplacesTags(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	s.Set(ctx, "k", []byte("v1"), "a")
	s.Set(ctx, "k", []byte("v2"), "b")

	if n := s.Invalidate(ctx, "a"); n != 0 {
		t.Errorf("old tag still indexes key: %d", n)
	}
	if v, _ := s.Get(ctx, "k"); string(v) != "v2" {
		t.Errorf("Get() = %q", v)
	}
}

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newMemory(time.Minute, func() time.Time { return now })

	m.Set(ctx, "k", []byte("v"), TagPosts)
	now = now.Add(59 * time.Second)
	if _, ok := m.Get(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}
	now = now.Add(time.Second)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatal("entry outlived its ttl")
	}
	if len(m.byTag) != 0 {
		t.Errorf("tag index not cleaned: %v", m.byTag)
	}
}

func TestMemory_SetIfCurrentDropsStaleWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	// A reader misses, takes the version and goes to the database...
	ver := s.Version(ctx, TagPosts)
	// ...while a writer commits and invalidates.
	s.Invalidate(ctx, TagPosts)

	if s.SetIfCurrent(ctx, "/api/posts", []byte("old rows"), ver, TagPosts) {
		t.Error("SetIfCurrent() stored a response built before the invalidation")
	}
	if _, ok := s.Get(ctx, "/api/posts"); ok {
		t.Fatal("stale listing is cached")
	}

	ver = s.Version(ctx, TagPosts)
	s.Invalidate(ctx, PostTag("other"))
	if !s.SetIfCurrent(ctx, "/api/posts", []byte("fresh rows"), ver, TagPosts) {
		t.Error("an unrelated invalidation blocked the write")
	}
	if v, ok := s.Get(ctx, "/api/posts"); !ok || string(v) != "fresh rows" {
		t.Errorf("Get() = %q, %v", v, ok)
	}
}

func TestMemory_VersionCoversEveryTag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	tags := []string{TagPosts, PostTag("hello")}

	ver := s.Version(ctx, tags...)
	s.Invalidate(ctx, PostTag("hello"))
	if s.Version(ctx, tags...) == ver {
		t.Error("Version() did not move after one of its tags was invalidated")
	}
	if s.SetIfCurrent(ctx, "/api/posts/hello", []byte("x"), ver, tags...) {
		t.Error("SetIfCurrent() ignored the post tag")
	}
}
