// Package repo holds the Neo4j session plumbing shared by graph-backed
// stores and a generic read repository over labelled nodes.
package repo

import "context"

// Reader is a generic read-only repository.
type Reader[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
}

// ListOpts controls pagination for List operations.
type ListOpts struct {
	Offset int
	Limit  int
}
