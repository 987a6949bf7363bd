package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"blogreplay/internal/database"
	"blogreplay/internal/domain"
	"blogreplay/internal/feedfile"
)

// PageFetcher is the archive API surface the coordinator drives.
type PageFetcher interface {
	LookupBlog(ctx context.Context, blogURL string) (*domain.BlogInfo, error)
	FetchPage(ctx context.Context, apiID string, cursor *string) (*domain.Page, error)
}

type state int

const (
	stateIdle state = iota
	stateFetching
	stateStoring
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateFetching:
		return "fetching"
	case stateStoring:
		return "storing"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Coordinator walks one blog's archive page by page. Each page is committed
// together with its continuation cursor, so the cursor never points past data
// that is not durably stored and an interrupted walk resumes where it left off.
type Coordinator struct {
	client PageFetcher
	db     *database.Database
	log    *slog.Logger
}

func NewCoordinator(client PageFetcher, db *database.Database, log *slog.Logger) *Coordinator {
	return &Coordinator{
		client: client,
		db:     db,
		log:    log,
	}
}

// Run registers or refreshes the blog at blogURL and scrapes its archive to
// exhaustion or failure. Cursors keep their last committed position on failure.
func (c *Coordinator) Run(ctx context.Context, blogURL string) error {
	info, err := c.client.LookupBlog(ctx, blogURL)
	if err != nil {
		return fmt.Errorf("look up blog: %w", err)
	}

	blog, err := c.db.UpsertBlog(ctx, info.URL, info.APIID, info.Title, blogKey(info))
	if err != nil {
		return fmt.Errorf("register blog: %w", err)
	}

	if blog.ArchiveComplete {
		c.log.InfoContext(ctx, "Archive already scraped to the end",
			"blogURL", blog.SourceURL,
			"title", blog.Title)

		return nil
	}

	c.log.InfoContext(ctx, "Scraping archive",
		"blogURL", blog.SourceURL,
		"title", blog.Title,
		"postCount", info.PostCount,
		"resuming", blog.ScrapeCursor != nil)

	return c.walk(ctx, blog)
}

func (c *Coordinator) walk(ctx context.Context, blog *domain.Blog) error {
	cursor := blog.ScrapeCursor
	stored := 0

	var page *domain.Page
	var runErr error

	st := stateIdle
	for st != stateDone && st != stateFailed {
		switch st {
		case stateIdle:
			st = stateFetching

		case stateFetching:
			page, runErr = c.client.FetchPage(ctx, blog.APIID, cursor)
			if runErr != nil {
				st = stateFailed
				break
			}

			if len(page.Posts) == 0 && page.NextCursor == nil {
				if runErr = c.db.MarkArchiveComplete(ctx, blog.ID); runErr != nil {
					st = stateFailed
					break
				}

				st = stateDone
				break
			}

			st = stateStoring

		case stateStoring:
			complete := page.NextCursor == nil

			runErr = c.db.PutPage(ctx, blog.ID, page.Posts, page.NextCursor, complete)
			if runErr != nil {
				st = stateFailed
				break
			}

			stored += len(page.Posts)
			cursor = page.NextCursor

			c.log.DebugContext(ctx, "Page stored",
				"blogURL", blog.SourceURL,
				"pagePosts", len(page.Posts),
				"storedTotal", stored,
				"hasMore", !complete)

			if complete {
				st = stateDone
			} else {
				st = stateFetching
			}
		}
	}

	if st == stateFailed {
		return fmt.Errorf("scrape %s: %w", blog.SourceURL, runErr)
	}

	c.log.InfoContext(ctx, "Archive scraped to the end",
		"blogURL", blog.SourceURL,
		"storedPosts", stored)

	return nil
}

// blogKey derives a non-empty feed key, falling back to the blog's host when
// the title sanitizes away completely.
func blogKey(info *domain.BlogInfo) string {
	if key := feedfile.Key(info.Title); key != "" {
		return key
	}

	if u, err := url.Parse(strings.TrimSpace(info.URL)); err == nil && u.Host != "" {
		if key := feedfile.Key(u.Host); key != "" {
			return key
		}
	}

	return feedfile.Key(info.APIID)
}
