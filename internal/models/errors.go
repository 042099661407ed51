package models

import "errors"

var (
	// ErrEmptyQuery signals a blank question.
	ErrEmptyQuery = errors.New("empty query")
	// ErrMissingEntity signals a template parameter with no matching entity.
	ErrMissingEntity = errors.New("missing required entity")
	// ErrTemplateNotFound signals an unknown template id.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrGraphUnavailable signals the graph store could not answer.
	ErrGraphUnavailable = errors.New("graph store unavailable")
	// ErrVectorUnavailable signals the vector index could not answer.
	ErrVectorUnavailable = errors.New("vector index unavailable")
	// ErrEmbeddingFailed signals the embedding service failed.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrDimensionMismatch signals an embedding of unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrStageTimeout signals a pipeline stage exceeded its budget.
	ErrStageTimeout = errors.New("stage timeout")
	// ErrStagePanic signals a pipeline stage panicked.
	ErrStagePanic = errors.New("stage panicked")
)
