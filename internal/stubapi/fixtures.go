package stubapi

import (
	"context"
	"fmt"
	"time"

	"conduit-client/internal/domain"
)

// Demo credentials created by Seed.
const (
	DemoEmail    = "demo@conduit.dev"
	DemoUsername = "demo"
	DemoPassword = "Password1"
)

var seedAuthors = []string{"alice", "bob", "carol"}

var seedTags = [][]string{
	{"go", "backend"},
	{"web"},
	{"go", "testing"},
	{"design"},
}

// Seed creates a demo account following alice and bob, three authors and a
// dozen articles spread over them.
func (s *Server) Seed(ctx context.Context) error {
	demo, err := s.accounts.Register(ctx, DemoUsername, DemoEmail, DemoPassword)
	if err != nil {
		return fmt.Errorf("seed demo user: %w", err)
	}

	authors := make(map[string]domain.Author, len(seedAuthors))
	for _, name := range seedAuthors {
		u, err := s.accounts.Register(ctx, name, name+"@conduit.dev", DemoPassword)
		if err != nil {
			return fmt.Errorf("seed author %s: %w", name, err)
		}
		authors[name] = domain.Author{ID: u.ID, Username: u.Username}
	}
	for _, name := range seedAuthors[:2] {
		if err := s.accounts.Follow(ctx, demo.ID, name); err != nil {
			return fmt.Errorf("seed follow %s: %w", name, err)
		}
	}

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		author := authors[seedAuthors[i%len(seedAuthors)]]
		s.catalog.Add(domain.Article{
			Slug:        fmt.Sprintf("article-%02d", i+1),
			Title:       fmt.Sprintf("Article %d", i+1),
			Description: fmt.Sprintf("Notes from %s", author.Username),
			Body:        "Lorem ipsum.",
			TagList:     seedTags[i%len(seedTags)],
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			Author:      author,
		})
	}
	s.logger.WithField("articles", 12).Info("stub data seeded")
	return nil
}
