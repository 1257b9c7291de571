package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"

	"conduit-client/internal/domain"
	"conduit-client/internal/querycache"
)

type fakeArticles struct {
	counter
	total   int
	queries []domain.ArticleQuery
	err     error
}

func (f *fakeArticles) List(_ context.Context, q domain.ArticleQuery) (domain.ArticlePage, error) {
	f.hit("list")
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.err != nil {
		return domain.ArticlePage{}, f.err
	}
	var page domain.ArticlePage
	for i := q.Offset; i < q.Offset+q.Limit && i < f.total; i++ {
		page.Articles = append(page.Articles, domain.Article{Slug: fmt.Sprintf("%s-%d", q.Feed, i)})
	}
	page.TotalCount = f.total
	return page, nil
}

func (f *fakeArticles) ListTags(context.Context) ([]string, error) {
	f.hit("tags")
	return []string{"go", "web"}, nil
}

type authFlag bool

func (a *authFlag) IsAuthenticated() bool { return bool(*a) }

func newFeed(t *testing.T, total int, signedIn bool) (FeedService, *fakeArticles, *querycache.Cache, *authFlag) {
	t.Helper()
	cache, _ := newCache(t)
	logger, _ := test.NewNullLogger()
	src := &fakeArticles{total: total}
	flag := authFlag(signedIn)
	return NewFeedService(src, &flag, cache, DefaultFamilies(), logger), src, cache, &flag
}

func TestFeedStartsOnGlobalFirstPage(t *testing.T) {
	feed, src, _, _ := newFeed(t, 12, false)

	page, err := feed.Articles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Articles) != 10 || page.TotalCount != 12 {
		t.Errorf("unexpected page: %d articles, total %d", len(page.Articles), page.TotalCount)
	}
	want := domain.ArticleQuery{Feed: domain.FeedGlobal, Limit: 10, Offset: 0}
	if diff := cmp.Diff([]domain.ArticleQuery{want}, src.queries); diff != "" {
		t.Error(diff)
	}
	if p := feed.Pagination(); p.TotalPages != 2 || p.CurrentPage != 1 {
		t.Errorf("unexpected pagination %+v", p)
	}
	if diff := cmp.Diff(Range{Start: 1, End: 10, Total: 12}, feed.Range()); diff != "" {
		t.Error(diff)
	}
}

func TestSelectTagResetsPage(t *testing.T) {
	feed, src, _, _ := newFeed(t, 40, false)
	if err := feed.SelectPage(3); err != nil {
		t.Fatal(err)
	}
	feed.SelectTag("go")

	want := Selection{Feed: domain.FeedTag, Tag: "go", Page: 1, Limit: 10}
	if diff := cmp.Diff(want, feed.Selection()); diff != "" {
		t.Error(diff)
	}
	if _, err := feed.Articles(ctx); err != nil {
		t.Fatal(err)
	}
	got := src.queries[len(src.queries)-1]
	if got.Feed != domain.FeedTag || got.Tag != "go" || got.Offset != 0 {
		t.Errorf("unexpected query %+v", got)
	}

	feed.SelectTag("")
	if sel := feed.Selection(); sel.Feed != domain.FeedGlobal || sel.Tag != "" {
		t.Errorf("clearing the tag should return to global, got %+v", sel)
	}
}

func TestSelectFeed(t *testing.T) {
	feed, _, _, signedIn := newFeed(t, 0, false)

	if err := feed.SelectFeed(domain.FeedPersonal); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("expected ErrLoginRequired, got %v", err)
	}
	if err := feed.SelectFeed(domain.FeedTag); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("tag feed without a tag: %v", err)
	}
	if err := feed.SelectFeed("bogus"); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("unknown feed: %v", err)
	}

	*signedIn = true
	feed.SelectPage(4)
	if err := feed.SelectFeed(domain.FeedPersonal); err != nil {
		t.Fatal(err)
	}
	if sel := feed.Selection(); sel.Feed != domain.FeedPersonal || sel.Page != 1 {
		t.Errorf("unexpected selection %+v", sel)
	}

	*signedIn = false
	if _, err := feed.Articles(ctx); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("personal feed after logout: %v", err)
	}
}

func TestSelectPageAndLimitValidation(t *testing.T) {
	feed, _, _, _ := newFeed(t, 0, false)
	if err := feed.SelectPage(0); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("page 0: %v", err)
	}
	if err := feed.SelectLimit(101); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("limit 101: %v", err)
	}
	feed.SelectPage(3)
	if err := feed.SelectLimit(20); err != nil {
		t.Fatal(err)
	}
	if q := feed.Query(); q.Limit != 20 || q.Offset != 0 {
		t.Errorf("unexpected query %+v", q)
	}
}

func TestArticlesAreCachedPerQuery(t *testing.T) {
	feed, src, _, _ := newFeed(t, 30, false)

	feed.Articles(ctx)
	feed.Articles(ctx)
	feed.SelectPage(2)
	page, _ := feed.Articles(ctx)
	feed.SelectPage(1)
	feed.Articles(ctx)

	if n := src.count("list"); n != 2 {
		t.Errorf("expected 2 loads, got %d", n)
	}
	if page.Articles[0].Slug != "global-10" {
		t.Errorf("page 2 should start at offset 10, got %s", page.Articles[0].Slug)
	}
	if view := feed.ArticlesView(); !view.HasData || len(view.Data.Articles) != 10 {
		t.Errorf("unexpected view %+v", view)
	}
}

func TestInvalidation(t *testing.T) {
	cases := []struct {
		name       string
		invalidate func(FeedService)
		global     int
		tagged     int
		tags       int
	}{
		{name: "all", invalidate: func(f FeedService) { f.InvalidateAll() }, global: 2, tagged: 2, tags: 2},
		{name: "global feed", invalidate: func(f FeedService) { f.InvalidateByFeed(domain.FeedGlobal) }, global: 2, tagged: 1, tags: 1},
		{name: "tag go", invalidate: func(f FeedService) { f.InvalidateByTag("go") }, global: 1, tagged: 2, tags: 1},
		{name: "other tag", invalidate: func(f FeedService) { f.InvalidateByTag("rust") }, global: 1, tagged: 1, tags: 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			feed, src, _, _ := newFeed(t, 5, false)
			load := func() {
				feed.SelectTag("")
				feed.Articles(ctx)
				feed.SelectTag("go")
				feed.Articles(ctx)
				feed.Tags(ctx)
			}
			load()
			c.invalidate(feed)
			load()

			global, tagged := 0, 0
			for _, q := range src.queries {
				if q.Feed == domain.FeedTag {
					tagged++
				} else {
					global++
				}
			}
			got := []int{global, tagged, src.count("tags")}
			if diff := cmp.Diff([]int{c.global, c.tagged, c.tags}, got); diff != "" {
				t.Errorf("loads (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStaleListReloads(t *testing.T) {
	cache, clk := newCache(t)
	logger, _ := test.NewNullLogger()
	src := &fakeArticles{total: 3}
	flag := authFlag(true)
	feed := NewFeedService(src, &flag, cache, DefaultFamilies(), logger)
	feed.SelectFeed(domain.FeedPersonal)

	feed.Articles(ctx)
	clk.Advance(time.Minute)
	feed.Articles(ctx)
	clk.Advance(time.Minute)
	feed.Articles(ctx)

	if n := src.count("list"); n != 2 {
		t.Errorf("personal feed goes stale after two minutes, got %d loads", n)
	}
}

func TestArticlesErrorSurfaces(t *testing.T) {
	feed, src, _, _ := newFeed(t, 0, false)
	src.err = errors.New("unreachable")

	if _, err := feed.Articles(ctx); !errors.Is(err, src.err) {
		t.Errorf("expected load error, got %v", err)
	}
	if view := feed.ArticlesView(); view.Err == nil || view.HasData {
		t.Errorf("unexpected view %+v", view)
	}
	if p := feed.Pagination(); p.TotalPages != 0 {
		t.Errorf("no pages without data, got %+v", p)
	}
}

func TestPageNumbers(t *testing.T) {
	link := func(n int) PageLink { return PageLink{Number: n} }
	gap := PageLink{Gap: true}

	cases := []struct {
		current, total int
		want           []PageLink
	}{
		{1, 0, nil},
		{1, 1, []PageLink{link(1)}},
		{2, 5, []PageLink{link(1), link(2), link(3), link(4), link(5)}},
		{1, 10, []PageLink{link(1), link(2), gap, link(10)}},
		{3, 10, []PageLink{link(1), link(2), link(3), link(4), gap, link(10)}},
		{5, 10, []PageLink{link(1), gap, link(4), link(5), link(6), gap, link(10)}},
		{8, 10, []PageLink{link(1), gap, link(7), link(8), link(9), link(10)}},
		{10, 10, []PageLink{link(1), gap, link(9), link(10)}},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%d of %d", c.current, c.total), func(t *testing.T) {
			if diff := cmp.Diff(c.want, pageNumbers(c.current, c.total)); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestRangeOnLastPage(t *testing.T) {
	feed, _, _, _ := newFeed(t, 25, false)
	feed.SelectPage(3)
	feed.Articles(ctx)
	if diff := cmp.Diff(Range{Start: 21, End: 25, Total: 25}, feed.Range()); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]PageLink{{Number: 1}, {Number: 2}, {Number: 3}}, feed.PageNumbers()); diff != "" {
		t.Error(diff)
	}
}
