package config

type Op struct {
	// DataDir holds the state file; defaults to /var/lib/nvswitchd for
	// root, ~/.nvswitchd otherwise.
	DataDir string

	// InMemory leaves the state file empty so that events are kept in an
	// in-memory database.
	InMemory bool
}

type OpOption func(*Op)

func (op *Op) ApplyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}
	return nil
}

func WithDataDir(dir string) OpOption {
	return func(op *Op) {
		op.DataDir = dir
	}
}

func WithInMemory(b bool) OpOption {
	return func(op *Op) {
		op.InMemory = b
	}
}
