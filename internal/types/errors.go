package types

import "errors"

// Error taxonomy. Startup errors (missing index, bad dimension) are fatal;
// embedding and model failures are transient and stay scoped to one request.
var (
	ErrIndexNotFound     = errors.New("similarity index not found")
	ErrIndexCorrupt      = errors.New("similarity index corrupt")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyCorpus       = errors.New("corpus produced no usable documents")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrEmbedding         = errors.New("embedding request failed")
	ErrModelInvocation   = errors.New("model invocation failed")
)
