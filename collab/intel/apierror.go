package intel

import (
	"context"
	"errors"
	"strings"

	"github.com/vrushitpatel/repoauditor/collab"
)

// TranslateError classifies a vendor SDK error into a collaborator
// error. The SDKs expose failures inconsistently, so classification
// falls back to substring matching on the message:
//
//   - 401/403/auth problems are permanent
//   - quota and billing exhaustion is permanent
//   - 429/rate limits, timeouts, 5xx and cancellation are transient
func TranslateError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return collab.TransientError(op, err)
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "api_key"),
		strings.Contains(msg, "api key"):
		return collab.PermanentError(op, err)

	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "billing"):
		return collab.PermanentError(op, err)

	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "overloaded"):
		return collab.TransientError(op, err)
	}

	return collab.PermanentError(op, err)
}
