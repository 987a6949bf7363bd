package feedfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/feeds"
	"github.com/mmcdole/gofeed"

	"blogreplay/internal/domain"
)

// Writer maintains one Atom document per blog under dir. Documents are
// replaced atomically, so a reader never observes a half-written file.
type Writer struct {
	dir        string
	urlBase    string
	maxEntries int // 0 means unbounded
	generator  string
	parser     *gofeed.Parser
	log        *slog.Logger
}

func NewWriter(
	dir string,
	urlBase string,
	maxEntries int,
	generator string,
	log *slog.Logger,
) *Writer {
	return &Writer{
		dir:        dir,
		urlBase:    urlBase,
		maxEntries: maxEntries,
		generator:  generator,
		parser:     gofeed.NewParser(),
		log:        log,
	}
}

// Path returns where the document for a feed key lives.
func (w *Writer) Path(key string) string {
	return filepath.Join(w.dir, key+".atom")
}

// FeedID returns the feed-level Atom ID for a key.
func (w *Writer) FeedID(key string) string {
	return w.urlBase + "/" + key
}

// EntryID returns the Atom entry ID for a post of the keyed feed.
func (w *Writer) EntryID(key string, sourceID string) string {
	return w.FeedID(key) + "/" + sourceID
}

// Append adds post as the newest entry of the blog's document, evicting the
// oldest entries past the configured maximum, and replaces the file in one
// rename. Evicted entries stay in the store, only the visible document shrinks.
func (w *Writer) Append(ctx context.Context, blog *domain.Blog, post *domain.Post) error {
	path := w.Path(blog.FeedKey)

	items, err := w.readItems(path)
	if err != nil {
		return err
	}

	items = append(items, w.itemFromPost(blog, post))

	if w.maxEntries > 0 && len(items) > w.maxEntries {
		evicted := len(items) - w.maxEntries
		items = items[evicted:]

		w.log.DebugContext(ctx, "Evicted oldest feed entries",
			"feedKey", blog.FeedKey,
			"evicted", evicted,
			"maxEntries", w.maxEntries)
	}

	feed := &feeds.Feed{
		Title:   fmt.Sprintf("%s (%s)", blog.Title, w.generator),
		Id:      w.FeedID(blog.FeedKey),
		Link:    &feeds.Link{Href: blog.SourceURL, Rel: "alternate"},
		Updated: time.Now().UTC(),
		Items:   items,
	}

	if err = w.replace(ctx, path, feed); err != nil {
		return err
	}

	return nil
}

// readItems loads the existing document's entries in order. A missing file is
// a first write, not an error.
func (w *Writer) readItems(path string) ([]*feeds.Item, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open feed file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			w.log.Warn("Failed to close feed file",
				"error", closeErr,
				"path", path)
		}
	}()

	parsed, err := w.parser.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse feed file %s: %w", path, err)
	}

	items := make([]*feeds.Item, 0, len(parsed.Items)+1)
	for _, it := range parsed.Items {
		items = append(items, itemFromParsed(it))
	}

	return items, nil
}

func (w *Writer) itemFromPost(blog *domain.Blog, post *domain.Post) *feeds.Item {
	item := &feeds.Item{
		Id:      w.EntryID(blog.FeedKey, post.SourceID),
		Title:   post.Title,
		Link:    &feeds.Link{Href: post.Link, Rel: "alternate"},
		Content: post.Content,
		Created: post.Published,
		Updated: post.Published,
	}

	if post.Author != "" {
		item.Author = &feeds.Author{Name: post.Author}
	}

	return item
}

func itemFromParsed(it *gofeed.Item) *feeds.Item {
	item := &feeds.Item{
		Id:      it.GUID,
		Title:   it.Title,
		Link:    &feeds.Link{Href: it.Link, Rel: "alternate"},
		Content: it.Content,
	}

	if it.PublishedParsed != nil {
		item.Created = *it.PublishedParsed
	}

	item.Updated = item.Created
	if it.UpdatedParsed != nil {
		item.Updated = *it.UpdatedParsed
	}
	if item.Created.IsZero() {
		item.Created = item.Updated
	}

	if len(it.Authors) > 0 && it.Authors[0] != nil {
		item.Author = &feeds.Author{Name: it.Authors[0].Name}
	}

	return item
}

// replace writes the document to a temp file in the same directory and
// renames it over the old one.
func (w *Writer) replace(ctx context.Context, path string, feed *feeds.Feed) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create feed directory: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp feed file: %w", err)
	}

	if err = feed.WriteAtom(tmp); err != nil {
		w.discardTemp(ctx, tmp)
		return fmt.Errorf("write feed: %w", err)
	}

	if err = tmp.Close(); err != nil {
		w.removeTemp(ctx, tmp.Name())
		return fmt.Errorf("close temp feed file: %w", err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		w.removeTemp(ctx, tmp.Name())
		return fmt.Errorf("replace feed file: %w", err)
	}

	return nil
}

func (w *Writer) discardTemp(ctx context.Context, tmp *os.File) {
	if err := tmp.Close(); err != nil {
		w.log.WarnContext(ctx, "Failed to close temp feed file",
			"error", err,
			"path", tmp.Name())
	}

	w.removeTemp(ctx, tmp.Name())
}

func (w *Writer) removeTemp(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil {
		w.log.WarnContext(ctx, "Failed to remove temp feed file",
			"error", err,
			"path", path)
	}
}
