package github

import (
	"net/http"

	gh "github.com/google/go-github/v82/github"

	"github.com/aaaAlexanderaaa/my-gitstars/internal/domain/port/driven"
)

// classify wraps a go-github error in a driven.APIError. Classification
// happens here and nowhere else; downstream code switches on the Kind
// instead of inspecting messages or status codes.
func classify(err error, resp *gh.Response) *driven.APIError {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	switch e := err.(type) {
	case *gh.RateLimitError:
		return &driven.APIError{Kind: driven.KindRateLimited, Status: e.Response.StatusCode, Err: err}
	case *gh.AbuseRateLimitError:
		return &driven.APIError{Kind: driven.KindRateLimited, Status: status, Err: err}
	case *gh.ErrorResponse:
		if e.Response != nil {
			status = e.Response.StatusCode
		}
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &driven.APIError{Kind: driven.KindAuthFailed, Status: status, Err: err}
		case status == http.StatusNotFound:
			return &driven.APIError{Kind: driven.KindNotFound, Status: status, Err: err}
		case status >= http.StatusInternalServerError:
			return &driven.APIError{Kind: driven.KindTransient, Status: status, Err: err}
		default:
			return &driven.APIError{Kind: driven.KindUnknown, Status: status, Err: err}
		}
	}

	// No structured response at all: DNS failures, connection resets,
	// timeouts. Worth another attempt.
	if resp == nil {
		return &driven.APIError{Kind: driven.KindTransient, Err: err}
	}

	return &driven.APIError{Kind: driven.KindUnknown, Status: status, Err: err}
}

// retryable reports whether a classified failure is worth retrying.
// Auth and not-found outcomes are deterministic; rate limiting is handled
// by pacing, not by hammering the API again.
func retryable(kind driven.ErrorKind) bool {
	return kind == driven.KindTransient
}
