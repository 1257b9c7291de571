package storage

// Backend is the key-value capability the Session Store persists through.
// Get reports found=false for a missing key; Remove of a missing key is not an
// error.
type Backend interface {
	Get(key string) (value []byte, found bool, err error)
	Set(key string, value []byte) error
	Remove(key string) error
	Clear() error
}

// Nop is a Backend for contexts with no durable storage: nothing is ever found
// and every write is dropped.
type Nop struct{}

func (Nop) Get(string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(string, []byte) error         { return nil }
func (Nop) Remove(string) error              { return nil }
func (Nop) Clear() error                     { return nil }
