// Package classify maps any failure from an upstream call into a closed
// taxonomy. Classification is pure: no I/O, no panics, defined for every
// input including nil.
package classify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/egorovli/appointment-monitor/internal/ekonsulat"
)

// Class is an error class from the closed taxonomy.
type Class string

const (
	// RateLimitHard is the session-terminating per-IP ban. Fatal.
	RateLimitHard Class = "rate_limit_hard"
	// RateLimitSoft is a transient throttle that resolves after seconds.
	RateLimitSoft Class = "rate_limit_soft"
	// CaptchaRejected covers rejected CAPTCHA codes and solver failures.
	CaptchaRejected Class = "captcha"
	// SlotUnavailable means the targeted slot was taken under us.
	SlotUnavailable Class = "slot_unavailable"
	// API is any other structured upstream failure.
	API Class = "api"
	// Timeout covers elapsed deadlines and cancellation.
	Timeout Class = "timeout"
	// Network covers transport-level failures.
	Network Class = "network"
	// Unknown is everything the rules above did not match.
	Unknown Class = "unknown"
)

// knownReasons are upstream reason codes that classify as API errors while
// preserving the reason for the caller.
var knownReasons = map[string]bool{
	ekonsulat.ReasonNoFreeSlots:  true,
	ekonsulat.ReasonInvalidToken: true,
}

// Classify maps err into (class, upstreamReason). The reason is non-empty
// only when the upstream body carried a recognizable reason code.
func Classify(err error) (Class, string) {
	if err == nil {
		return Unknown, ""
	}

	// A reservation that returned 200 with no ticket.
	if errors.Is(err, ekonsulat.ErrSlotUnavailable) {
		return SlotUnavailable, ""
	}

	msg := strings.ToLower(err.Error())

	var apiErr *ekonsulat.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Reason == ekonsulat.ReasonIPLimitExceeded:
			return RateLimitHard, apiErr.Reason
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return RateLimitSoft, apiErr.Reason
		case apiErr.Reason == ekonsulat.ReasonSlotTaken:
			return SlotUnavailable, apiErr.Reason
		case knownReasons[apiErr.Reason]:
			return API, apiErr.Reason
		// The verify endpoint answers 403 when it throttles verification.
		case apiErr.StatusCode == http.StatusForbidden && apiErr.Endpoint == ekonsulat.EndpointCaptchaVerify:
			return RateLimitSoft, apiErr.Reason
		}

		// The message rules below must see only the upstream message and the
		// wrapped cause. APIError.Error() prefixes the endpoint label, and
		// the CAPTCHA endpoint labels would trip the "captcha" rule for
		// plain transport failures.
		msg = strings.ToLower(apiErr.Message)
		if apiErr.Err != nil {
			msg += " " + strings.ToLower(apiErr.Err.Error())
		}
	}

	if strings.Contains(msg, "too many requests") {
		return RateLimitSoft, reasonOf(apiErr)
	}

	if strings.Contains(msg, "captcha") {
		return CaptchaRejected, reasonOf(apiErr)
	}

	if isTimeout(err, msg) {
		return Timeout, ""
	}

	if isNetwork(err, msg) {
		return Network, ""
	}

	if apiErr != nil && apiErr.StatusCode >= 400 {
		return API, apiErr.Reason
	}

	return Unknown, ""
}

func reasonOf(apiErr *ekonsulat.APIError) string {
	if apiErr == nil {
		return ""
	}
	return apiErr.Reason
}

func isTimeout(err error, msg string) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "context canceled")
}

func isNetwork(err error, msg string) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof")
}
