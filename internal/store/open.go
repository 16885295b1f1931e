package store

import (
	"context"
	"fmt"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Driver          string
	MongoURL        string
	MongoDatabase   string
	MongoCollection string
	PostgresDSN     string
	SQLitePath      string
}

// Open connects the configured backend.
func Open(ctx context.Context, opts Options) (DocumentStore, error) {
	switch opts.Driver {
	case DriverMongo:
		s, err := OpenMongo(ctx, opts.MongoURL, opts.MongoDatabase, opts.MongoCollection)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := OpenPostgres(opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
}
