package backoff

import (
	"testing"
	"time"

	"github.com/egorovli/appointment-monitor/internal/classify"
)

func TestDelay_Bounds(t *testing.T) {
	p := Default()

	tests := []struct {
		name    string
		class   classify.Class
		captcha int
		min     time.Duration
		max     time.Duration
	}{
		{
			name:  "soft rate limit",
			class: classify.RateLimitSoft,
			min:   p.SoftLimitBase,
			max:   p.SoftLimitBase + 2*p.Jitter,
		},
		{
			name:    "captcha first failure",
			class:   classify.CaptchaRejected,
			captcha: 1,
			min:     5 * time.Second,
			max:     5*time.Second + p.Jitter,
		},
		{
			name:    "captcha capped",
			class:   classify.CaptchaRejected,
			captcha: 10,
			min:     p.CaptchaMax,
			max:     p.CaptchaMax + p.Jitter,
		},
		{
			name:  "network",
			class: classify.Network,
			min:   2 * p.Base,
			max:   2*p.Base + p.Jitter,
		},
		{
			name:  "timeout",
			class: classify.Timeout,
			min:   2 * p.Base,
			max:   2*p.Base + p.Jitter,
		},
		{
			name:  "slot unavailable",
			class: classify.SlotUnavailable,
			min:   p.SlotSwitch,
			max:   p.SlotSwitch,
		},
		{
			name:  "api",
			class: classify.API,
			min:   p.Retry,
			max:   p.Retry,
		},
		{
			name:  "unknown",
			class: classify.Unknown,
			min:   p.Retry,
			max:   p.Retry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Jitter is uniform; sample a few times to cover the range.
			for i := 0; i < 20; i++ {
				delay, fatal := p.Delay(tt.class, tt.captcha)
				if fatal {
					t.Fatalf("Delay(%q) reported fatal", tt.class)
				}
				if delay < tt.min || delay > tt.max {
					t.Fatalf("Delay(%q) = %v, want in [%v, %v]", tt.class, delay, tt.min, tt.max)
				}
			}
		})
	}
}

func TestDelay_HardLimitIsFatal(t *testing.T) {
	p := Default()
	delay, fatal := p.Delay(classify.RateLimitHard, 0)
	if !fatal {
		t.Error("Delay(rate_limit_hard) must report fatal")
	}
	if delay != 0 {
		t.Errorf("Delay(rate_limit_hard) = %v, want 0", delay)
	}
}

// The deterministic part of the CAPTCHA backoff must be non-decreasing in
// the consecutive-failure count and capped.
func TestCaptchaDelay_Monotonic(t *testing.T) {
	p := Default()
	p.Jitter = 0 // strip jitter so the sequence is deterministic

	prev := time.Duration(0)
	for k := 1; k <= 8; k++ {
		delay, _ := p.Delay(classify.CaptchaRejected, k)
		if delay < prev {
			t.Fatalf("captcha delay decreased at k=%d: %v < %v", k, delay, prev)
		}
		if delay > p.CaptchaMax {
			t.Fatalf("captcha delay exceeds cap at k=%d: %v", k, delay)
		}
		prev = delay
	}

	if prev != p.CaptchaMax {
		t.Errorf("captcha delay did not reach cap: %v", prev)
	}
}

func TestSearchInterval_Bounds(t *testing.T) {
	p := Default()
	for i := 0; i < 20; i++ {
		d := p.SearchInterval()
		if d < p.Base || d > p.Base+p.Jitter {
			t.Fatalf("SearchInterval() = %v, want in [%v, %v]", d, p.Base, p.Base+p.Jitter)
		}
	}
}

func TestCaptchaDelay_NegativeCount(t *testing.T) {
	p := Default()
	p.Jitter = 0
	delay, _ := p.Delay(classify.CaptchaRejected, -3)
	if delay != p.CaptchaBase {
		t.Errorf("Delay with negative count = %v, want base %v", delay, p.CaptchaBase)
	}
}
