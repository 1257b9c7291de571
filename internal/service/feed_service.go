package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"conduit-client/internal/domain"
	"conduit-client/internal/querycache"
)

// ErrLoginRequired is returned when the personal feed is selected without a
// valid session.
var ErrLoginRequired = errors.New("login required for the personal feed")

const maxVisiblePages = 5

// ArticleSource is the part of articles.Client the feed reads from.
type ArticleSource interface {
	List(ctx context.Context, q domain.ArticleQuery) (domain.ArticlePage, error)
	ListTags(ctx context.Context) ([]string, error)
}

// Authenticator reports whether a valid session exists.
type Authenticator interface {
	IsAuthenticated() bool
}

// Selection is what the home page currently shows.
type Selection struct {
	Feed  domain.FeedType
	Tag   string
	Page  int
	Limit int
}

// PageLink is one slot of a pagination bar; Gap slots render as "...".
type PageLink struct {
	Number int
	Gap    bool
}

// Range is the "showing Start to End of Total" line.
type Range struct {
	Start int
	End   int
	Total int
}

// FeedService drives the article listing of the home page.
type FeedService interface {
	Selection() Selection
	SelectFeed(feed domain.FeedType) error
	SelectTag(tag string)
	SelectPage(page int) error
	SelectLimit(limit int) error
	Query() domain.ArticleQuery
	Articles(ctx context.Context) (domain.ArticlePage, error)
	ArticlesView() querycache.View[domain.ArticlePage]
	Tags(ctx context.Context) ([]string, error)
	Pagination() domain.Pagination
	PageNumbers() []PageLink
	Range() Range
	InvalidateAll()
	InvalidateByFeed(feed domain.FeedType)
	InvalidateByTag(tag string)
}

type feedService struct {
	source   ArticleSource
	auth     Authenticator
	cache    *querycache.Cache
	families Families
	logger   *logrus.Logger

	mu  sync.Mutex
	sel Selection
}

func NewFeedService(source ArticleSource, auth Authenticator, cache *querycache.Cache, families Families, logger *logrus.Logger) FeedService {
	if logger == nil {
		logger = logrus.New()
	}
	return &feedService{
		source:   source,
		auth:     auth,
		cache:    cache,
		families: families,
		logger:   logger,
		sel:      Selection{Feed: domain.FeedGlobal, Page: 1, Limit: domain.DefaultLimit},
	}
}

func (s *feedService) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// SelectFeed switches feeds and returns to the first page. Switching to the
// tag feed keeps the current tag, which must be set.
func (s *feedService) SelectFeed(feed domain.FeedType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch feed {
	case domain.FeedGlobal:
		s.sel.Tag = ""
	case domain.FeedPersonal:
		if !s.auth.IsAuthenticated() {
			return ErrLoginRequired
		}
		s.sel.Tag = ""
	case domain.FeedTag:
		if s.sel.Tag == "" {
			return fmt.Errorf("%w: tag feed needs a tag", domain.ErrInvalidQuery)
		}
	default:
		return fmt.Errorf("%w: unknown feed %q", domain.ErrInvalidQuery, feed)
	}
	s.sel.Feed = feed
	s.sel.Page = 1
	return nil
}

// SelectTag shows the articles for tag from the first page. An empty tag
// returns to the global feed.
func (s *feedService) SelectTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sel.Tag = tag
	s.sel.Page = 1
	if tag == "" {
		s.sel.Feed = domain.FeedGlobal
		return
	}
	s.sel.Feed = domain.FeedTag
}

func (s *feedService) SelectPage(page int) error {
	if page < 1 {
		return fmt.Errorf("%w: page %d", domain.ErrInvalidQuery, page)
	}
	s.mu.Lock()
	s.sel.Page = page
	s.mu.Unlock()
	return nil
}

func (s *feedService) SelectLimit(limit int) error {
	if limit < 1 || limit > domain.MaxLimit {
		return fmt.Errorf("%w: limit %d", domain.ErrInvalidQuery, limit)
	}
	s.mu.Lock()
	s.sel.Limit = limit
	s.sel.Page = 1
	s.mu.Unlock()
	return nil
}

func (s *feedService) Query() domain.ArticleQuery {
	return s.Selection().query()
}

func (sel Selection) query() domain.ArticleQuery {
	return domain.ArticleQuery{
		Feed:   sel.Feed,
		Tag:    sel.Tag,
		Limit:  sel.Limit,
		Offset: (sel.Page - 1) * sel.Limit,
	}
}

func listKey(q domain.ArticleQuery) querycache.Key {
	return articleListKey.With(string(q.Feed), q.Tag, strconv.Itoa(q.Limit), strconv.Itoa(q.Offset))
}

func (s *feedService) Articles(ctx context.Context) (domain.ArticlePage, error) {
	q := s.Query()
	if q.Feed == domain.FeedPersonal && !s.auth.IsAuthenticated() {
		return domain.ArticlePage{}, ErrLoginRequired
	}
	opts := s.families.Lists
	if q.Feed == domain.FeedPersonal {
		opts = s.families.PersonalFeed
	}
	page, err := querycache.Fetch(ctx, s.cache, listKey(q), func(ctx context.Context) (domain.ArticlePage, error) {
		return s.source.List(ctx, q)
	}, opts)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"feed": q.Feed, "tag": q.Tag, "offset": q.Offset}).Warnf("load articles: %v", err)
		return domain.ArticlePage{}, err
	}
	return page, nil
}

func (s *feedService) ArticlesView() querycache.View[domain.ArticlePage] {
	return querycache.Observe[domain.ArticlePage](s.cache, listKey(s.Query()))
}

func (s *feedService) Tags(ctx context.Context) ([]string, error) {
	return querycache.Fetch(ctx, s.cache, tagsKey, s.source.ListTags, s.families.Tags)
}

// Pagination uses the total of the cached page for the current selection; it
// reports no pages until that page has loaded.
func (s *feedService) Pagination() domain.Pagination {
	sel := s.Selection()
	total := 0
	if view := querycache.Observe[domain.ArticlePage](s.cache, listKey(sel.query())); view.HasData {
		total = view.Data.TotalCount
	}
	return domain.NewPagination(sel.Page, total, sel.Limit)
}

func (s *feedService) PageNumbers() []PageLink {
	p := s.Pagination()
	return pageNumbers(p.CurrentPage, p.TotalPages)
}

// pageNumbers always shows the first and last page and the neighbours of
// current, with gaps in between once there are more than five pages.
func pageNumbers(current, total int) []PageLink {
	if total <= 0 {
		return nil
	}
	var links []PageLink
	if total <= maxVisiblePages {
		for i := 1; i <= total; i++ {
			links = append(links, PageLink{Number: i})
		}
		return links
	}

	links = append(links, PageLink{Number: 1})
	if current > 3 {
		links = append(links, PageLink{Gap: true})
	}
	start := max(2, current-1)
	end := min(total-1, current+1)
	for i := start; i <= end; i++ {
		links = append(links, PageLink{Number: i})
	}
	if current < total-2 {
		links = append(links, PageLink{Gap: true})
	}
	return append(links, PageLink{Number: total})
}

func (s *feedService) Range() Range {
	p := s.Pagination()
	if p.TotalItems == 0 {
		return Range{}
	}
	return Range{
		Start: (p.CurrentPage-1)*p.ItemsPerPage + 1,
		End:   min(p.CurrentPage*p.ItemsPerPage, p.TotalItems),
		Total: p.TotalItems,
	}
}

func (s *feedService) InvalidateAll() {
	s.cache.Invalidate(articlesKey)
}

func (s *feedService) InvalidateByFeed(feed domain.FeedType) {
	s.cache.Invalidate(articleListKey.With(string(feed)))
}

func (s *feedService) InvalidateByTag(tag string) {
	s.cache.Invalidate(articleListKey.With(string(domain.FeedTag), tag))
}
