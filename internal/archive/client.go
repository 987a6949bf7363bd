package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"blogreplay/internal/domain"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/blogger/v3"
	clientTimeout   = 30 * time.Second
	requestInterval = time.Second
	backoffBase     = 500 * time.Millisecond
	userAgent       = "blogreplay/0.1.0"
)

// Client reads a blog's archive through the Blogger v3 API, oldest first.
// Requests are spaced out by a rate limiter and retried with exponential
// backoff when the failure is worth retrying.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	maxRetries  uint
	backoffBase time.Duration
	limiter     *rate.Limiter
	log         *slog.Logger
}

func NewClient(apiKey string, maxRetries uint, log *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: clientTimeout},
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		limiter:     rate.NewLimiter(rate.Every(requestInterval), 1),
		log:         log,
	}
}

type blogJSON struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	URL   string          `json:"url"`
	Posts itemSummaryJSON `json:"posts"`
}

type itemSummaryJSON struct {
	TotalItems int64 `json:"totalItems"`
}

type authorJSON struct {
	DisplayName string `json:"displayName"`
	URL         string `json:"url"`
}

type postJSON struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Author    authorJSON `json:"author"`
	Published string     `json:"published"`
}

type listPostsJSON struct {
	NextPageToken string     `json:"nextPageToken"`
	Items         []postJSON `json:"items"`
}

// LookupBlog resolves a blog URL to its API identity and display metadata.
func (c *Client) LookupBlog(ctx context.Context, blogURL string) (*domain.BlogInfo, error) {
	blogURL = strings.TrimSpace(blogURL)
	if blogURL == "" {
		return nil, fmt.Errorf("%w: blog URL is empty", domain.ErrPermanent)
	}

	query := url.Values{}
	query.Set("url", blogURL)

	var blog blogJSON
	if err := c.getJSON(ctx, "/blogs/byurl", query, &blog); err != nil {
		return nil, fmt.Errorf("look up blog %s: %w", blogURL, err)
	}

	if blog.ID == "" {
		return nil, fmt.Errorf("%w: response for %s carries no blog ID",
			domain.ErrPermanent, blogURL)
	}

	return &domain.BlogInfo{
		APIID:     blog.ID,
		Title:     blog.Name,
		URL:       blog.URL,
		PostCount: blog.Posts.TotalItems,
	}, nil
}

// FetchPage fetches one page of posts at the given cursor, oldest first.
// A page with no posts and no next cursor means the archive is exhausted.
// The cursor is untouched on failure, so the caller may resume later.
func (c *Client) FetchPage(
	ctx context.Context,
	apiID string,
	cursor *string,
) (*domain.Page, error) {
	query := url.Values{}
	query.Set("orderBy", "published")
	query.Set("sortOption", "ascending")
	query.Set("fetchBodies", "true")
	if cursor != nil {
		query.Set("pageToken", *cursor)
	}

	var resp listPostsJSON
	if err := c.getJSON(ctx, "/blogs/"+apiID+"/posts", query, &resp); err != nil {
		return nil, fmt.Errorf("fetch page for blog %s: %w", apiID, err)
	}

	page := &domain.Page{Posts: make([]domain.Post, 0, len(resp.Items))}

	for _, item := range resp.Items {
		post, err := postFromJSON(item)
		if err != nil {
			return nil, fmt.Errorf("fetch page for blog %s: %w", apiID, err)
		}

		page.Posts = append(page.Posts, post)
	}

	if resp.NextPageToken != "" {
		token := resp.NextPageToken
		page.NextCursor = &token
	}

	return page, nil
}

func postFromJSON(item postJSON) (domain.Post, error) {
	if item.ID == "" {
		return domain.Post{}, fmt.Errorf("%w: post without an ID", domain.ErrPermanent)
	}

	published, err := time.Parse(time.RFC3339, item.Published)
	if err != nil {
		return domain.Post{}, fmt.Errorf("%w: post %s published time %q",
			domain.ErrPermanent, item.ID, item.Published)
	}

	return domain.Post{
		SourceID:  item.ID,
		Title:     item.Title,
		Author:    item.Author.DisplayName,
		AuthorURL: item.Author.URL,
		Published: published,
		Content:   item.Content,
		Link:      item.URL,
	}, nil
}

// getJSON performs one rate-limited GET with bounded retry. Network errors,
// 429 and 5xx responses are retried; anything else aborts immediately.
func (c *Client) getJSON(
	ctx context.Context,
	path string,
	query url.Values,
	out any,
) error {
	query.Set("key", c.apiKey)
	requestURL := c.baseURL + path + "?" + query.Encode()

	attempt := 0
	op := func() error {
		attempt++

		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		err := c.getJSONOnce(ctx, requestURL, out)
		if err != nil {
			c.log.WarnContext(ctx, "Archive request failed",
				"error", err,
				"path", path,
				"attempt", attempt)
		}

		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffBase

	return backoff.Retry(op,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx))
}

func (c *Client) getJSONOnce(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%w: create request: %v", domain.ErrPermanent, err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WarnContext(ctx, "Failed to close response body",
				"error", closeErr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %s", domain.ErrTransient, resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("%w: status %s", domain.ErrPermanent, resp.Status))
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("%w: decode response: %v", domain.ErrPermanent, err))
	}

	return nil
}
