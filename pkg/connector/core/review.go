package core

import (
	"time"

	"github.com/reviewkit/reviewkit/pkg/errors"
)

// NormalizedReview is the canonical, source-agnostic review representation
// produced by every connector. It is transient: it exists only between
// parsing and persistence.
type NormalizedReview struct {
	// ExternalID is the source-native identifier, unique per connector.
	// Required; connectors synthesize one deterministically when the
	// source provides none.
	ExternalID string

	// Rating is the 1-5 star rating, nil when the source has none
	Rating *int

	Title   string
	Content string // required, non-empty

	AuthorName string
	AuthorID   string

	ReviewDate time.Time // required

	// Business reply, when present
	ResponseText string
	ResponseDate *time.Time

	LikesCount    int
	RepliesCount  int
	HelpfulCount  int

	// DetectedLanguage is low-confidence metadata only
	DetectedLanguage string

	// RawData retains the opaque source payload for audit
	RawData map[string]interface{}
}

// FetchError is a record- or file-scoped problem returned as data.
// Expected conditions are never surfaced as Go errors from a connector;
// they are accumulated here so siblings keep processing.
type FetchError struct {
	Type      errors.ErrorType       `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Retryable bool                   `json:"retryable"`
}

// NewFetchError creates a FetchError of the given type. Retryability
// follows the taxonomy: only unknown and connection errors retry.
func NewFetchError(errType errors.ErrorType, message string) FetchError {
	return FetchError{
		Type:      errType,
		Message:   message,
		Retryable: errType == errors.ErrorTypeUnknown || errType == errors.ErrorTypeConnection,
	}
}

// WithContext attaches a key-value pair to the error context.
func (e FetchError) WithContext(key string, value interface{}) FetchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// FetchErrorFromErr converts a Go error into a FetchError, preserving the
// taxonomy type when the error is a structured *errors.Error.
func FetchErrorFromErr(err error) FetchError {
	return FetchError{
		Type:      errors.TypeOf(err),
		Message:   err.Error(),
		Retryable: errors.IsRetryable(err),
	}
}

// FetchResult is produced once per connector invocation.
type FetchResult struct {
	Reviews    []NormalizedReview
	HasMore    bool
	NextCursor string
	Errors     []FetchError
	Metadata   map[string]interface{}
}

// AddError appends a FetchError to the result.
func (r *FetchResult) AddError(e FetchError) {
	r.Errors = append(r.Errors, e)
}

// SetMetadata sets a metadata entry, allocating the map lazily.
func (r *FetchResult) SetMetadata(key string, value interface{}) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[key] = value
}
