package service

import (
	"time"

	"conduit-client/internal/querycache"
)

// Families holds the cache options of each key family.
type Families struct {
	Identity     querycache.Options
	AuthStatus   querycache.Options
	Lists        querycache.Options
	PersonalFeed querycache.Options
	Tags         querycache.Options
}

func DefaultFamilies() Families {
	return Families{
		Identity:     querycache.Options{StaleAfter: 5 * time.Minute, CollectAfter: 10 * time.Minute},
		AuthStatus:   querycache.Options{StaleAfter: time.Minute, CollectAfter: 5 * time.Minute},
		Lists:        querycache.Options{StaleAfter: 5 * time.Minute, CollectAfter: 10 * time.Minute},
		PersonalFeed: querycache.Options{StaleAfter: 2 * time.Minute, CollectAfter: 5 * time.Minute},
		Tags:         querycache.Options{StaleAfter: 10 * time.Minute, CollectAfter: 30 * time.Minute},
	}
}

var (
	authKey        = querycache.NewKey("auth")
	authStatusKey  = authKey.With("user")
	currentUserKey = authKey.With("currentUser")

	articlesKey    = querycache.NewKey("articles")
	articleListKey = articlesKey.With("list")
	tagsKey        = articlesKey.With("tags")
)
