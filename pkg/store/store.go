// Package store persists published graphs so a restart can serve the
// last good graph before the first rebuild finishes.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ritzau/insight-graph/pkg/model"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot saved")

// Store keeps the most recent graph snapshot.
type Store interface {
	// Save replaces the stored snapshot with g.
	Save(ctx context.Context, g *model.Graph) error
	// Load returns the stored snapshot or ErrNoSnapshot.
	Load(ctx context.Context) (*model.Graph, error)
	Close() error
}

// Kinds of store.
const (
	KindNone     = "none"
	KindFile     = "file"
	KindPostgres = "postgres"
)

// Config selects and configures a store.
type Config struct {
	Kind string
	Path string // file store
	DSN  string // postgres store
}

// Open creates the store described by cfg. KindNone yields a nil Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", KindNone:
		return nil, nil
	case KindFile:
		if cfg.Path == "" {
			return nil, errors.New("file store needs a path")
		}
		return NewFileStore(cfg.Path), nil
	case KindPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("postgres store needs a dsn")
		}
		return NewPGStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}
