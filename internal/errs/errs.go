// Package errs defines the job-facing error taxonomy shared across the
// pipeline (C10), so that a failure from any phase can be classified
// into the kinds named in the error-handling design without leaking
// stack traces into a Record.
package errs

import "fmt"

// ConfigError signals a misconfiguration. At startup it halts the
// process; at runtime it halts only the offending job.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %s", e.Field, e.Message)
}

// FetchErrorKind classifies why an HTTP fetch failed.
type FetchErrorKind string

const (
	FetchDNS        FetchErrorKind = "dns"
	FetchTLS        FetchErrorKind = "tls"
	FetchTimeout    FetchErrorKind = "timeout"
	FetchHTTPStatus FetchErrorKind = "http_status"
	FetchTooLarge   FetchErrorKind = "too_large"
	FetchMalformed  FetchErrorKind = "malformed"
)

// FetchError is returned by the HTTP fetcher (C1).
type FetchError struct {
	Kind      FetchErrorKind
	Retryable bool
	URL       string
	Status    int
	Err       error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BrowserError is returned by the browser fetcher (C2).
type BrowserError struct {
	URL string
	Err error
}

func (e *BrowserError) Error() string {
	return fmt.Sprintf("browser render %s: %v", e.URL, e.Err)
}

func (e *BrowserError) Unwrap() error { return e.Err }

// LLMErrorKind classifies why an LLM call failed.
type LLMErrorKind string

const (
	LLMAuth            LLMErrorKind = "auth"
	LLMRateLimited     LLMErrorKind = "rate_limited"
	LLMTimeout         LLMErrorKind = "timeout"
	LLMMalformedOutput LLMErrorKind = "malformed_output"
	LLMQuota           LLMErrorKind = "quota"
)

// LLMError is returned by the LLM client (C3).
type LLMError struct {
	Kind     LLMErrorKind
	Provider string
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// EmbeddingError is returned by the embedding builder (C9).
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding: %v", e.Err) }

func (e *EmbeddingError) Unwrap() error { return e.Err }

// PersistenceError is returned by the storage collaborator.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

// Canceled signals the job observed an external cancellation.
type Canceled struct {
	JobID string
}

func (e *Canceled) Error() string { return fmt.Sprintf("job %s canceled", e.JobID) }

// JobTimeout signals the hard per-job timeout was exceeded.
type JobTimeout struct {
	JobID string
}

func (e *JobTimeout) Error() string { return fmt.Sprintf("job %s timed out", e.JobID) }

// NoContent signals Phase 3 produced zero usable pages. This is always
// fatal for the job.
type NoContent struct{}

func (e *NoContent) Error() string { return "no content: all extraction fetches failed" }

// InternalError wraps an unexpected defect that doesn't fit any other
// kind.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string { return fmt.Sprintf("internal error: %v", e.Err) }

func (e *InternalError) Unwrap() error { return e.Err }

// Kind returns the taxonomy kind string for err, or "" if err does not
// match a known type. Used to populate Record.ScrapeError.Kind.
func Kind(err error) string {
	switch e := err.(type) {
	case *ConfigError:
		return "ConfigError"
	case *FetchError:
		return "FetchError." + string(e.Kind)
	case *BrowserError:
		return "BrowserError"
	case *LLMError:
		return "LLMError." + string(e.Kind)
	case *EmbeddingError:
		return "EmbeddingError"
	case *PersistenceError:
		return "PersistenceError"
	case *Canceled:
		return "Canceled"
	case *JobTimeout:
		return "JobTimeout"
	case *NoContent:
		return "NoContent"
	case *InternalError:
		return "InternalError"
	default:
		return ""
	}
}
