package sync

import "context"

type Repository interface {
	// EnsureCollection creates the staging table for resourceType if it
	// does not exist. Called once per resource type at worker startup.
	EnsureCollection(ctx context.Context, resourceType string) error
	Insert(ctx context.Context, rec *Record) error
}
