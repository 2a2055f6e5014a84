package sqlite

import "fmt"

type Op struct {
	readOnly bool
	cache    string
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}

	switch op.cache {
	case "", "shared", "private":
	default:
		return fmt.Errorf("invalid cache mode %q", op.cache)
	}
	return nil
}

// ref. https://github.com/mattn/go-sqlite3/issues/1179#issuecomment-1638083995
func WithReadOnly(b bool) OpOption {
	return func(op *Op) {
		op.readOnly = b
	}
}

// WithCache sets the cache mode of an in-memory database; "shared" lets
// a read-only and a read-write handle see the same data. Ignored for
// file databases.
// ref. https://github.com/mattn/go-sqlite3?tab=readme-ov-file#faq
func WithCache(mode string) OpOption {
	return func(op *Op) {
		op.cache = mode
	}
}
