package domain

import "errors"

// Error taxonomy for the pipeline. ModelUnavailable and MalformedResult are
// recovered per stage via conservative fallbacks; StorageError aborts the run;
// ConfigurationError prevents the pipeline from starting at all.
var (
	// ErrModelUnavailable marks a transient capability failure
	// (network error, timeout, 5xx).
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrMalformedResult marks capability output that failed structural
	// validation after the bounded repair attempts.
	ErrMalformedResult = errors.New("malformed model result")

	// ErrStorage marks a failed audit or corpus write. Retryable by the
	// caller; the run is aborted.
	ErrStorage = errors.New("storage error")

	// ErrConfiguration marks a fatal setup problem (embedding dimension
	// mismatch, missing policy values). Never recovered.
	ErrConfiguration = errors.New("configuration error")
)
