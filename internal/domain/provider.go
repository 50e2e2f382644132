package domain

import (
	"context"
	"io"
)

// ProviderConfig is the Domain's contract for what it needs to start a server pool.
type ProviderConfig struct {
	ID            string
	Host          string
	Port          int
	Username      string
	Password      string
	TLS           bool
	MaxConnection int
	Priority      int
}

// Provider represents one server pool: a named, redundant source of articles.
type Provider interface {
	ID() string
	Priority() int
	MaxConnection() int
	// Fetch returns the article body. The caller must Close the reader to
	// release the underlying connection.
	Fetch(ctx context.Context, msgID string, groups []string) (io.ReadCloser, error)
	Close() error
}
