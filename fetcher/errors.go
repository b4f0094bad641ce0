package fetcher

import "fmt"

// TransientError marks a failure worth retrying: timeouts, connection
// resets, 5xx responses.
type TransientError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient fetch %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transient fetch %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: disallowed
// domain, 404, malformed URL.
type PermanentError struct {
	URL    string
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent fetch %s: %s", e.URL, e.Reason)
}
