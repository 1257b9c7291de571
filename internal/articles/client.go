// Package articles shapes requests to the Content API's listing endpoints.
// It does no caching of its own.
package articles

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"conduit-client/internal/domain"
	"conduit-client/internal/restclient"
)

// TokenSource supplies the bearer token for the personal feed.
type TokenSource interface {
	Token() (string, bool)
}

type listResponse struct {
	Articles      []domain.Article `json:"articles"`
	ArticlesCount int              `json:"articlesCount"`
}

type tagsResponse struct {
	Tags []string `json:"tags"`
}

// Client is stateless apart from its transport.
type Client struct {
	rest   *restclient.Client
	tokens TokenSource
}

// NewClient returns an article client. tokens may be nil, in which case the
// personal feed is requested without credentials.
func NewClient(rest *restclient.Client, tokens TokenSource) *Client {
	return &Client{rest: rest, tokens: tokens}
}

// List fetches one page of the feed selected by q.
func (c *Client) List(ctx context.Context, q domain.ArticleQuery) (domain.ArticlePage, error) {
	q, err := q.Normalize()
	if err != nil {
		return domain.ArticlePage{}, err
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(q.Offset))

	req := restclient.Request{
		Method: http.MethodGet,
		Path:   "/articles",
		Query:  params,
	}
	switch q.Feed {
	case domain.FeedPersonal:
		req.Path = "/articles/feed"
		if c.tokens != nil {
			if tok, ok := c.tokens.Token(); ok {
				req.Token = tok
			}
		}
	case domain.FeedTag:
		params.Set("tag", q.Tag)
	}

	var res listResponse
	if err := c.rest.Do(ctx, req, &res); err != nil {
		return domain.ArticlePage{}, fmt.Errorf("list %s articles: %w", q.Feed, err)
	}

	articles := res.Articles
	// some servers ignore limit
	if len(articles) > q.Limit {
		articles = articles[:q.Limit]
	}
	if articles == nil {
		articles = []domain.Article{}
	}
	return domain.ArticlePage{Articles: articles, TotalCount: res.ArticlesCount}, nil
}

// ListGlobal fetches a page of the global feed.
func (c *Client) ListGlobal(ctx context.Context, limit, offset int) (domain.ArticlePage, error) {
	return c.List(ctx, domain.ArticleQuery{Feed: domain.FeedGlobal, Limit: limit, Offset: offset})
}

// ListByTag fetches a page of articles carrying tag.
func (c *Client) ListByTag(ctx context.Context, tag string, limit, offset int) (domain.ArticlePage, error) {
	return c.List(ctx, domain.ArticleQuery{Feed: domain.FeedTag, Tag: tag, Limit: limit, Offset: offset})
}

// ListFeed fetches a page of the signed-in user's personal feed.
func (c *Client) ListFeed(ctx context.Context, limit, offset int) (domain.ArticlePage, error) {
	return c.List(ctx, domain.ArticleQuery{Feed: domain.FeedPersonal, Limit: limit, Offset: offset})
}

// ListTags returns the tag vocabulary, de-duplicated in server order.
func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	var res tagsResponse
	if err := c.rest.Do(ctx, restclient.Request{Method: http.MethodGet, Path: "/tags"}, &res); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	seen := make(map[string]struct{}, len(res.Tags))
	tags := make([]string, 0, len(res.Tags))
	for _, tag := range res.Tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags, nil
}
