package feedfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"blogreplay/internal/domain"
)

func TestKey(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{title: "Example Blog", want: "example_blog"},
		{title: "  Example   Blog  ", want: "example_blog"},
		{title: "Josh's Blog!", want: "josh_s_blog"},
		{title: "already_snake", want: "already_snake"},
		{title: "Numbers 123", want: "numbers_123"},
		{title: "???", want: ""},
	}

	for _, tt := range tests {
		if got := Key(tt.title); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func newTestWriter(t *testing.T, maxEntries int) *Writer {
	t.Helper()

	return NewWriter(t.TempDir(), "https://feeds.example.com", maxEntries, "blogreplay", slog.Default())
}

func testBlog() *domain.Blog {
	return &domain.Blog{
		ID:        1,
		SourceURL: "https://example.blogspot.com/",
		Title:     "Example Blog",
		FeedKey:   "example_blog",
	}
}

func testPost(seq int64) *domain.Post {
	return &domain.Post{
		BlogID:    1,
		Seq:       seq,
		SourceID:  fmt.Sprintf("p%d", seq),
		Title:     fmt.Sprintf("Post %d", seq),
		Author:    "Ann",
		Published: time.Date(2020, 7, 25, 22, 10, 0, 0, time.UTC).Add(time.Duration(seq) * time.Hour),
		Content:   fmt.Sprintf("<p>body %d</p>", seq),
		Link:      fmt.Sprintf("https://example.blogspot.com/p%d", seq),
	}
}

func parseFeedFile(t *testing.T, path string) *gofeed.Feed {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open feed file: %v", err)
	}
	defer func() {
		if err = f.Close(); err != nil {
			t.Errorf("failed to close feed file: %v", err)
		}
	}()

	parsed, err := gofeed.NewParser().Parse(f)
	if err != nil {
		t.Fatalf("failed to parse feed file: %v", err)
	}

	return parsed
}

func TestAppendCreatesDocument(t *testing.T) {
	ctx := context.Background()
	writer := newTestWriter(t, 0)
	blog := testBlog()

	if err := writer.Append(ctx, blog, testPost(0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	parsed := parseFeedFile(t, writer.Path(blog.FeedKey))

	if parsed.Title != "Example Blog (blogreplay)" {
		t.Fatalf("unexpected feed title %q", parsed.Title)
	}
	if len(parsed.Items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(parsed.Items))
	}

	entry := parsed.Items[0]
	if entry.GUID != "https://feeds.example.com/example_blog/p0" {
		t.Fatalf("unexpected entry ID %q", entry.GUID)
	}
	if entry.Title != "Post 0" {
		t.Fatalf("unexpected entry title %q", entry.Title)
	}
	if !strings.Contains(entry.Content, "body 0") {
		t.Fatalf("expected content to survive, got %q", entry.Content)
	}
}

func TestAppendKeepsAscendingOrder(t *testing.T) {
	ctx := context.Background()
	writer := newTestWriter(t, 0)
	blog := testBlog()

	for seq := int64(0); seq < 4; seq++ {
		if err := writer.Append(ctx, blog, testPost(seq)); err != nil {
			t.Fatalf("failed to append post %d: %v", seq, err)
		}
	}

	parsed := parseFeedFile(t, writer.Path(blog.FeedKey))
	if len(parsed.Items) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(parsed.Items))
	}

	for i, entry := range parsed.Items {
		want := fmt.Sprintf("https://feeds.example.com/example_blog/p%d", i)
		if entry.GUID != want {
			t.Fatalf("entry %d: expected ID %q, got %q", i, want, entry.GUID)
		}
	}
}

func TestAppendEvictsOldest(t *testing.T) {
	ctx := context.Background()
	writer := newTestWriter(t, 3)
	blog := testBlog()

	for seq := int64(0); seq < 5; seq++ {
		if err := writer.Append(ctx, blog, testPost(seq)); err != nil {
			t.Fatalf("failed to append post %d: %v", seq, err)
		}
	}

	parsed := parseFeedFile(t, writer.Path(blog.FeedKey))
	if len(parsed.Items) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(parsed.Items))
	}

	// Evicted entries are always the oldest; the visible document is a
	// contiguous suffix ending with the newest post.
	for i, entry := range parsed.Items {
		want := fmt.Sprintf("https://feeds.example.com/example_blog/p%d", i+2)
		if entry.GUID != want {
			t.Fatalf("entry %d: expected ID %q, got %q", i, want, entry.GUID)
		}
	}
}

func TestAppendLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	writer := newTestWriter(t, 0)
	blog := testBlog()

	for seq := int64(0); seq < 3; seq++ {
		if err := writer.Append(ctx, blog, testPost(seq)); err != nil {
			t.Fatalf("failed to append post %d: %v", seq, err)
		}
	}

	entries, err := os.ReadDir(writer.dir)
	if err != nil {
		t.Fatalf("failed to read feed dir: %v", err)
	}

	if len(entries) != 1 || entries[0].Name() != "example_blog.atom" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the feed document, got %v", names)
	}
}

func TestAppendRoundTripsAuthorAndTimes(t *testing.T) {
	ctx := context.Background()
	writer := newTestWriter(t, 0)
	blog := testBlog()

	if err := writer.Append(ctx, blog, testPost(0)); err != nil {
		t.Fatalf("failed to append first post: %v", err)
	}
	if err := writer.Append(ctx, blog, testPost(1)); err != nil {
		t.Fatalf("failed to append second post: %v", err)
	}

	parsed := parseFeedFile(t, writer.Path(blog.FeedKey))

	// The first entry has been read back and rewritten once; its fields must
	// have survived the round trip.
	entry := parsed.Items[0]
	if len(entry.Authors) == 0 || entry.Authors[0].Name != "Ann" {
		t.Fatalf("expected author to survive rewrite, got %+v", entry.Authors)
	}
	if entry.UpdatedParsed == nil {
		t.Fatalf("expected entry updated time to survive rewrite")
	}
	want := time.Date(2020, 7, 25, 22, 10, 0, 0, time.UTC)
	if !entry.UpdatedParsed.Equal(want) {
		t.Fatalf("expected updated %v, got %v", want, entry.UpdatedParsed)
	}
}
