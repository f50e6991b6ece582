package retrieval

import (
	"context"
	"errors"
	"fmt"
)

// NoDataFound is the context text used when the knowledge service has no
// matching document.
const NoDataFound = "No data found"

// Retriever fetches knowledge-base context for a user question.
type Retriever interface {
	FetchContext(ctx context.Context, query string, topK int) (string, error)
}

// RetrievalError reports a failed knowledge lookup.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IsRetrievalError reports whether err is or wraps a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// Static always returns the same context. Used when no knowledge service
// is configured.
type Static string

func (s Static) FetchContext(ctx context.Context, query string, topK int) (string, error) {
	if string(s) == "" {
		return NoDataFound, nil
	}
	return string(s), nil
}
