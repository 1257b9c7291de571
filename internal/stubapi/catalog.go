package stubapi

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conduit-client/internal/domain"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Catalog is the in-memory article store behind the Content API. Listings are
// newest first.
type Catalog struct {
	mu       sync.RWMutex
	articles []domain.Article
}

func NewCatalog() *Catalog {
	return &Catalog{}
}

// Add stores a and returns it with its slug and timestamps filled in.
func (c *Catalog) Add(a domain.Article) domain.Article {
	if a.Slug == "" {
		a.Slug = slugify(a.Title)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	if a.TagList == nil {
		a.TagList = []string{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.articles = append(c.articles, a)
	sort.SliceStable(c.articles, func(i, j int) bool {
		return c.articles[i].CreatedAt.After(c.articles[j].CreatedAt)
	})
	return a
}

func slugify(title string) string {
	base := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(title), "-"), "-")
	suffix := uuid.NewString()[:8]
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}

// listFilter selects articles; a zero value matches everything.
type listFilter struct {
	tag     string
	authors map[string]bool
}

func (f listFilter) match(a domain.Article) bool {
	if f.authors != nil && !f.authors[a.Author.Username] {
		return false
	}
	if f.tag == "" {
		return true
	}
	for _, t := range a.TagList {
		if t == f.tag {
			return true
		}
	}
	return false
}

// List returns one page of the matching articles and the total match count.
// following marks authors the viewer follows.
func (c *Catalog) List(f listFilter, limit, offset int, following map[string]bool) ([]domain.Article, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	page := []domain.Article{}
	total := 0
	for _, a := range c.articles {
		if !f.match(a) {
			continue
		}
		if total >= offset && len(page) < limit {
			a.Author.Following = following[a.Author.Username]
			a.TagList = append([]string(nil), a.TagList...)
			page = append(page, a)
		}
		total++
	}
	return page, total
}

// Tags lists every tag in use, most used first.
func (c *Catalog) Tags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int)
	var order []string
	for _, a := range c.articles {
		for _, t := range a.TagList {
			if counts[t] == 0 {
				order = append(order, t)
			}
			counts[t]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if order == nil {
		return []string{}
	}
	return order
}
