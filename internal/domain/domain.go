package domain

import "time"

// Blog is one tracked archive source, identified by its canonical URL.
type Blog struct {
	ID              int64
	SourceURL       string
	APIID           string
	Title           string
	FeedKey         string
	ScrapeCursor    *string // nil means start from the beginning of the archive
	ArchiveComplete bool
	PublishCursor   *int64 // sequence of the last published post, nil means none yet
}

// Post is a captured archive entry. Seq is dense and strictly increasing
// per blog, assigned at capture time in archive order (oldest = 0).
// A stored post is never modified.
type Post struct {
	BlogID    int64
	Seq       int64
	SourceID  string
	Title     string
	Author    string
	AuthorURL string
	Published time.Time
	Content   string
	Link      string
}

// Page is one batch of posts from the archive API, oldest first.
// A nil NextCursor means the archive is exhausted after this page.
type Page struct {
	Posts      []Post
	NextCursor *string
}

// BlogInfo is the API-side identity of a blog, resolved from its URL.
type BlogInfo struct {
	APIID     string
	Title     string
	URL       string
	PostCount int64
}
