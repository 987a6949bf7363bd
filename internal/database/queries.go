package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"blogreplay/internal/domain"
)

func (d *Database) UpsertBlog(
	ctx context.Context,
	sourceURL string,
	apiID string,
	title string,
	feedKey string,
) (*domain.Blog, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return nil, errors.New("blog URL is empty")
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = sourceURL
	}

	// The feed key is part of published file names, so it is fixed on first
	// registration even when the upstream title changes later.
	query := `insert into blogs (source_url, api_id, title, feed_key)
	values (?, ?, ?, ?)
	on conflict (source_url) do update
	set api_id = excluded.api_id, title = excluded.title`

	if _, err := d.db.ExecContext(ctx, query, sourceURL, apiID, title, feedKey); err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}

	return d.GetBlog(ctx, sourceURL)
}

func (d *Database) GetBlog(ctx context.Context, sourceURL string) (*domain.Blog, error) {
	query := `select id, source_url, api_id, title, feed_key,
	scrape_cursor, archive_complete, publish_cursor
	from blogs
	where source_url = ?`

	row := d.db.QueryRowContext(ctx, query, sourceURL)

	blog, err := scanBlog(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return blog, nil
}

func (d *Database) ListBlogs(ctx context.Context) ([]domain.Blog, error) {
	query := `select id, source_url, api_id, title, feed_key,
	scrape_cursor, archive_complete, publish_cursor
	from blogs
	order by id`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "ListBlogs")
		}
	}()

	var blogs []domain.Blog
	for rows.Next() {
		blog, scanErr := scanBlog(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan row: %w", scanErr)
		}

		blogs = append(blogs, *blog)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return blogs, nil
}

// PutPage stores one fetched page and the cursor that follows it as a single
// durable transaction. Sequence numbers continue from the highest one already
// assigned, in the order the posts arrived. A post ID seen before for this
// blog aborts the whole page with ErrConflict and no cursor movement.
func (d *Database) PutPage(
	ctx context.Context,
	blogID int64,
	posts []domain.Post,
	nextCursor *string,
	complete bool,
) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil &&
			!errors.Is(rollbackErr, sql.ErrTxDone) {
			d.log.ErrorContext(ctx, "Failed to roll back transaction",
				"error", rollbackErr,
				"blogID", blogID,
				"operation", "PutPage")
		}
	}()

	var nextSeq int64

	row := tx.QueryRowContext(ctx,
		"select coalesce(max(seq) + 1, 0) from posts where blog_id = ?", blogID)
	if err = row.Scan(&nextSeq); err != nil {
		return fmt.Errorf("scan next sequence: %w", err)
	}

	query := `insert into posts
	(blog_id, seq, source_id, title, author, author_url, published, content, link)
	values (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for i := range posts {
		p := &posts[i]
		p.BlogID = blogID
		p.Seq = nextSeq + int64(i)

		_, err = tx.ExecContext(ctx, query,
			p.BlogID, p.Seq, p.SourceID, p.Title, p.Author, p.AuthorURL,
			p.Published.UTC().Format(time.RFC3339Nano), p.Content, p.Link)
		if isConstraintErr(err) {
			return fmt.Errorf("%w: post %s delivered twice for blog %d",
				domain.ErrConflict, p.SourceID, blogID)
		}
		if err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"update blogs set scrape_cursor = ?, archive_complete = ? where id = ?",
		nullableString(nextCursor), complete, blogID)
	if err != nil {
		return fmt.Errorf("update scrape cursor: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// MarkArchiveComplete records that the API reported exhaustion without
// delivering a final page to store.
func (d *Database) MarkArchiveComplete(ctx context.Context, blogID int64) error {
	query := "update blogs set archive_complete = 1 where id = ?"

	_, err := d.db.ExecContext(ctx, query, blogID)

	return err
}

// GetPostAtOrAfter returns the oldest stored post with seq >= the given
// sequence, or nil when the blog has nothing at or past it.
func (d *Database) GetPostAtOrAfter(
	ctx context.Context,
	blogID int64,
	seq int64,
) (*domain.Post, error) {
	query := `select blog_id, seq, source_id, title, author, author_url,
	published, content, link
	from posts
	where blog_id = ? and seq >= ?
	order by seq
	limit 1`

	row := d.db.QueryRowContext(ctx, query, blogID, seq)

	var p domain.Post
	var published string

	err := row.Scan(&p.BlogID, &p.Seq, &p.SourceID, &p.Title, &p.Author,
		&p.AuthorURL, &published, &p.Content, &p.Link)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	if p.Published, err = time.Parse(time.RFC3339Nano, published); err != nil {
		return nil, fmt.Errorf("parse published time: %w", err)
	}

	return &p, nil
}

// AdvancePublishCursor moves the publish cursor forward to seq. Moving it
// backward, or re-setting the current value, fails with ErrInvariant.
func (d *Database) AdvancePublishCursor(ctx context.Context, blogID int64, seq int64) error {
	query := `update blogs set publish_cursor = ?
	where id = ? and (publish_cursor is null or publish_cursor < ?)`

	res, err := d.db.ExecContext(ctx, query, seq, blogID, seq)
	if err != nil {
		return fmt.Errorf("execute query: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("count affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: publish cursor for blog %d would not advance to %d",
			domain.ErrInvariant, blogID, seq)
	}

	return nil
}

func scanBlog(scan func(...any) error) (*domain.Blog, error) {
	var b domain.Blog
	var cursor sql.NullString
	var published sql.NullInt64

	err := scan(&b.ID, &b.SourceURL, &b.APIID, &b.Title, &b.FeedKey,
		&cursor, &b.ArchiveComplete, &published)
	if err != nil {
		return nil, err
	}

	if cursor.Valid {
		b.ScrapeCursor = &cursor.String
	}
	if published.Valid {
		b.PublishCursor = &published.Int64
	}

	return &b, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}

	return *s
}
