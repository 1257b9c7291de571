package domain

import (
	"errors"
	"fmt"
	"time"
)

// FeedType names an article listing variant.
type FeedType string

const (
	FeedPersonal FeedType = "feed"
	FeedGlobal   FeedType = "global"
	FeedTag      FeedType = "tag"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ErrInvalidQuery is returned for an ArticleQuery outside its bounds.
var ErrInvalidQuery = errors.New("invalid article query")

// Author is the public profile attached to an article.
type Author struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	Bio       *string `json:"bio"`
	Image     *string `json:"image"`
	Following bool    `json:"following"`
}

// Article is identified by its slug.
type Article struct {
	Slug           string    `json:"slug"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Body           string    `json:"body"`
	TagList        []string  `json:"tagList"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Favorited      bool      `json:"favorited"`
	FavoritesCount int       `json:"favoritesCount"`
	Author         Author    `json:"author"`
}

// ArticlePage is one page of a listing plus the total across all pages.
type ArticlePage struct {
	Articles   []Article
	TotalCount int
}

// ArticleQuery selects a page of a feed. It is compared by value.
type ArticleQuery struct {
	Feed   FeedType
	Tag    string
	Limit  int
	Offset int
}

// Normalize fills defaults and checks bounds. An empty feed means global, a
// zero limit means DefaultLimit.
func (q ArticleQuery) Normalize() (ArticleQuery, error) {
	if q.Feed == "" {
		q.Feed = FeedGlobal
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}

	switch q.Feed {
	case FeedGlobal, FeedPersonal:
	case FeedTag:
		if q.Tag == "" {
			return q, fmt.Errorf("%w: tag feed requires a tag", ErrInvalidQuery)
		}
	default:
		return q, fmt.Errorf("%w: unknown feed %q", ErrInvalidQuery, q.Feed)
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return q, fmt.Errorf("%w: limit %d outside [1,%d]", ErrInvalidQuery, q.Limit, MaxLimit)
	}
	if q.Offset < 0 {
		return q, fmt.Errorf("%w: negative offset %d", ErrInvalidQuery, q.Offset)
	}
	return q, nil
}

// Pagination describes where a page sits in a listing.
type Pagination struct {
	CurrentPage  int
	TotalPages   int
	TotalItems   int
	ItemsPerPage int
}

// NewPagination derives page counts; totalPages = ceil(total/perPage).
func NewPagination(currentPage, totalItems, perPage int) Pagination {
	if perPage < 1 {
		perPage = DefaultLimit
	}
	if currentPage < 1 {
		currentPage = 1
	}
	if totalItems < 0 {
		totalItems = 0
	}
	return Pagination{
		CurrentPage:  currentPage,
		TotalPages:   (totalItems + perPage - 1) / perPage,
		TotalItems:   totalItems,
		ItemsPerPage: perPage,
	}
}
