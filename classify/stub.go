package classify

import (
	"context"
	"errors"
	"strings"
)

// Stub is a deterministic Classifier for tests and offline runs. Text
// containing any of the keywords (case-insensitive) is a policy titled by
// its first line.
type Stub struct {
	Keywords []string
	// Err, when set, is returned from every call — simulates an
	// unavailable classification service.
	Err error
}

// ErrUnavailable is a ready-made service failure for tests.
var ErrUnavailable = errors.New("classify: service unavailable")

func (s *Stub) Classify(_ context.Context, text string) (Decision, error) {
	if s.Err != nil {
		return Decision{}, s.Err
	}
	lower := strings.ToLower(text)
	for _, kw := range s.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			title := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
			if title == "" {
				title = kw
			}
			return Decision{IsPolicy: true, Title: title}, nil
		}
	}
	return Decision{}, nil
}
