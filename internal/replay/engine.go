package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"blogreplay/internal/database"
	"blogreplay/internal/domain"
)

// FeedAppender publishes one post into a blog's feed document.
type FeedAppender interface {
	Append(ctx context.Context, blog *domain.Blog, post *domain.Post) error
}

// Engine republishes captured posts one at a time. Each run publishes at most
// one post per tracked blog, pacing the replay regardless of backlog size;
// the external trigger decides the cadence.
type Engine struct {
	db     *database.Database
	writer FeedAppender
	log    *slog.Logger
}

func New(db *database.Database, writer FeedAppender, log *slog.Logger) *Engine {
	return &Engine{
		db:     db,
		writer: writer,
		log:    log,
	}
}

// Run replays the oldest unpublished post of every tracked blog. Blogs fail
// independently; the joined error reports each one.
func (e *Engine) Run(ctx context.Context) error {
	blogs, err := e.db.ListBlogs(ctx)
	if err != nil {
		return fmt.Errorf("list blogs: %w", err)
	}

	var errs []error
	for i := range blogs {
		blog := &blogs[i]

		if err = e.replayNext(ctx, blog); err != nil {
			e.log.ErrorContext(ctx, "Failed to replay blog",
				"error", err,
				"blogURL", blog.SourceURL)

			errs = append(errs, fmt.Errorf("replay %s: %w", blog.SourceURL, err))
		}
	}

	return errors.Join(errs...)
}

// replayNext publishes the blog's oldest unpublished post and advances the
// publish cursor. The cursor only moves after the feed document hit disk, so
// a failed write is retried on the next run.
func (e *Engine) replayNext(ctx context.Context, blog *domain.Blog) error {
	var nextSeq int64
	if blog.PublishCursor != nil {
		nextSeq = *blog.PublishCursor + 1
	}

	post, err := e.db.GetPostAtOrAfter(ctx, blog.ID, nextSeq)
	if err != nil {
		return fmt.Errorf("find next post: %w", err)
	}
	if post == nil {
		e.log.DebugContext(ctx, "Nothing left to publish",
			"blogURL", blog.SourceURL,
			"publishCursor", blog.PublishCursor)

		return nil
	}

	if err = e.writer.Append(ctx, blog, post); err != nil {
		return fmt.Errorf("append to feed: %w", err)
	}

	if err = e.db.AdvancePublishCursor(ctx, blog.ID, post.Seq); err != nil {
		return fmt.Errorf("advance publish cursor: %w", err)
	}

	e.log.InfoContext(ctx, "Published post",
		"blogURL", blog.SourceURL,
		"seq", post.Seq,
		"postTitle", post.Title)

	return nil
}
