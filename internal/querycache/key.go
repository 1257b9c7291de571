package querycache

import "strings"

// Key identifies a cache entry by its segments. Two keys with equal segments
// name the same entry; prefix matching works segment by segment.
type Key []string

func NewKey(parts ...string) Key {
	return append(Key(nil), parts...)
}

// With returns a new key extended by parts. k is not modified.
func (k Key) With(parts ...string) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, parts...)
}

// HasPrefix reports whether the leading segments of k equal prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (k Key) String() string {
	return strings.Join(k, "/")
}

// id is the map key; the separator cannot appear in ordinary segments.
func (k Key) id() string {
	return strings.Join(k, "\x1f")
}
