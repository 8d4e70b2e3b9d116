package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/egorovli/appointment-monitor/internal/ekonsulat"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantClass  Class
		wantReason string
	}{
		{
			name:      "nil error",
			err:       nil,
			wantClass: Unknown,
		},
		{
			name:      "slot unavailable sentinel",
			err:       fmt.Errorf("create-reservation: %w", ekonsulat.ErrSlotUnavailable),
			wantClass: SlotUnavailable,
		},
		{
			name: "hard rate limit by reason",
			err: &ekonsulat.APIError{
				StatusCode: 400,
				Reason:     ekonsulat.ReasonIPLimitExceeded,
				Endpoint:   ekonsulat.EndpointCheckSlots,
			},
			wantClass:  RateLimitHard,
			wantReason: ekonsulat.ReasonIPLimitExceeded,
		},
		{
			name: "soft rate limit by 429",
			err: &ekonsulat.APIError{
				StatusCode: 429,
				Endpoint:   ekonsulat.EndpointCheckSlots,
			},
			wantClass: RateLimitSoft,
		},
		{
			name:      "soft rate limit by message",
			err:       errors.New("upstream said Too Many Requests, slow down"),
			wantClass: RateLimitSoft,
		},
		{
			name: "slot taken reason",
			err: &ekonsulat.APIError{
				StatusCode: 400,
				Reason:     ekonsulat.ReasonSlotTaken,
				Endpoint:   ekonsulat.EndpointReservation,
			},
			wantClass:  SlotUnavailable,
			wantReason: ekonsulat.ReasonSlotTaken,
		},
		{
			name: "invalid token reason",
			err: &ekonsulat.APIError{
				StatusCode: 400,
				Reason:     ekonsulat.ReasonInvalidToken,
				Endpoint:   ekonsulat.EndpointReservation,
			},
			wantClass:  API,
			wantReason: ekonsulat.ReasonInvalidToken,
		},
		{
			name: "no free slots reason",
			err: &ekonsulat.APIError{
				StatusCode: 404,
				Reason:     ekonsulat.ReasonNoFreeSlots,
				Endpoint:   ekonsulat.EndpointCheckSlots,
			},
			wantClass:  API,
			wantReason: ekonsulat.ReasonNoFreeSlots,
		},
		{
			name: "403 from captcha verify is soft throttle",
			err: &ekonsulat.APIError{
				StatusCode: 403,
				Endpoint:   ekonsulat.EndpointCaptchaVerify,
			},
			wantClass: RateLimitSoft,
		},
		{
			name: "403 elsewhere is api",
			err: &ekonsulat.APIError{
				StatusCode: 403,
				Endpoint:   ekonsulat.EndpointCheckSlots,
			},
			wantClass: API,
		},
		{
			name:      "captcha by message",
			err:       errors.New("captcha code rejected by upstream"),
			wantClass: CaptchaRejected,
		},
		{
			name:      "deadline exceeded",
			err:       fmt.Errorf("check-slots: %w", context.DeadlineExceeded),
			wantClass: Timeout,
		},
		{
			name:      "context canceled",
			err:       context.Canceled,
			wantClass: Timeout,
		},
		{
			name: "wrapped cancellation inside api error",
			err: &ekonsulat.APIError{
				Endpoint: ekonsulat.EndpointCheckSlots,
				Err:      context.Canceled,
			},
			wantClass: Timeout,
		},
		{
			name:      "dns error",
			err:       &net.DNSError{Err: "no such host", Name: "api.e-konsulat.gov.pl"},
			wantClass: Network,
		},
		{
			name:      "connection refused by message",
			err:       errors.New("dial tcp 127.0.0.1:443: connect: connection refused"),
			wantClass: Network,
		},
		{
			name: "generic 500 is api",
			err: &ekonsulat.APIError{
				StatusCode: 500,
				Endpoint:   ekonsulat.EndpointReservation,
			},
			wantClass: API,
		},
		{
			name: "generic 400 without reason is api",
			err: &ekonsulat.APIError{
				StatusCode: 400,
				Message:    "bad request",
				Endpoint:   ekonsulat.EndpointReservation,
			},
			wantClass: API,
		},
		{
			name: "cancellation on captcha generate is timeout",
			err: &ekonsulat.APIError{
				Endpoint: ekonsulat.EndpointCaptchaGenerate,
				Err:      context.Canceled,
			},
			wantClass: Timeout,
		},
		{
			name: "deadline on captcha verify is timeout",
			err: &ekonsulat.APIError{
				Endpoint: ekonsulat.EndpointCaptchaVerify,
				Err:      context.DeadlineExceeded,
			},
			wantClass: Timeout,
		},
		{
			name: "connection refused on captcha generate is network",
			err: &ekonsulat.APIError{
				Endpoint: ekonsulat.EndpointCaptchaGenerate,
				Err:      errors.New("dial tcp 127.0.0.1:443: connect: connection refused"),
			},
			wantClass: Network,
		},
		{
			name:      "anything else is unknown",
			err:       errors.New("something odd happened"),
			wantClass: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, reason := Classify(tt.err)
			if class != tt.wantClass {
				t.Errorf("Classify() class = %q, want %q", class, tt.wantClass)
			}
			if reason != tt.wantReason {
				t.Errorf("Classify() reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

// Classify must be total: defined for every error value without panicking.
func TestClassify_Totality(t *testing.T) {
	inputs := []error{
		nil,
		errors.New(""),
		&ekonsulat.APIError{},
		fmt.Errorf("wrapped: %w", errors.New("inner")),
		&net.OpError{Op: "dial", Err: errors.New("boom")},
	}
	for i, err := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Classify panicked on input %d: %v", i, r)
				}
			}()
			Classify(err)
		}()
	}
}

// Hard rate limit wins over the 429 rule regardless of status code.
func TestClassify_HardLimitPrecedence(t *testing.T) {
	err := &ekonsulat.APIError{
		StatusCode: 429,
		Reason:     ekonsulat.ReasonIPLimitExceeded,
		Endpoint:   ekonsulat.EndpointReservation,
	}
	class, reason := Classify(err)
	if class != RateLimitHard {
		t.Errorf("class = %q, want %q", class, RateLimitHard)
	}
	if reason != ekonsulat.ReasonIPLimitExceeded {
		t.Errorf("reason = %q, want %q", reason, ekonsulat.ReasonIPLimitExceeded)
	}
}
