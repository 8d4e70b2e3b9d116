// Package backoff translates an error class and failure history into the
// next inter-attempt delay.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/egorovli/appointment-monitor/internal/classify"
)

// Policy holds the delay constants. The zero value is not usable; start from
// Default and override as needed.
type Policy struct {
	// Base paces successful search iterations.
	Base time.Duration
	// Jitter is the upper bound of the uniform jitter added to most delays.
	Jitter time.Duration
	// SoftLimitBase is the floor delay after a soft rate limit.
	SoftLimitBase time.Duration
	// CaptchaBase and CaptchaMax bound the exponential CAPTCHA backoff;
	// CaptchaMult is the per-consecutive-failure multiplier.
	CaptchaBase time.Duration
	CaptchaMax  time.Duration
	CaptchaMult float64
	// SlotSwitch is the delay between slot switches in the booking loop.
	SlotSwitch time.Duration
	// Retry is the booking loop's same-slot retry delay.
	Retry time.Duration
}

// Default returns the policy contract used by the repeatability tests.
func Default() Policy {
	return Policy{
		Base:          500 * time.Millisecond,
		Jitter:        time.Second,
		SoftLimitBase: 3 * time.Second,
		CaptchaBase:   2500 * time.Millisecond,
		CaptchaMax:    12 * time.Second,
		CaptchaMult:   2.0,
		SlotSwitch:    100 * time.Millisecond,
		Retry:         200 * time.Millisecond,
	}
}

// SearchInterval is the pacing delay between successful search polls.
func (p Policy) SearchInterval() time.Duration {
	return p.Base + jitter(p.Jitter)
}

// Delay returns the delay before the next attempt after a failure of the
// given class. consecutiveCaptcha is the current run of consecutive CAPTCHA
// failures. fatal is true when the caller must stop the session instead of
// retrying.
func (p Policy) Delay(class classify.Class, consecutiveCaptcha int) (delay time.Duration, fatal bool) {
	switch class {
	case classify.RateLimitHard:
		return 0, true
	case classify.RateLimitSoft:
		return p.SoftLimitBase + jitter(2*p.Jitter), false
	case classify.CaptchaRejected:
		return p.captchaDelay(consecutiveCaptcha), false
	case classify.Network, classify.Timeout:
		return 2*p.Base + jitter(p.Jitter), false
	case classify.SlotUnavailable:
		return p.SlotSwitch, false
	default:
		// api and unknown: short retry with fixed pacing.
		return p.Retry, false
	}
}

func (p Policy) captchaDelay(consecutive int) time.Duration {
	if consecutive < 0 {
		consecutive = 0
	}
	scaled := float64(p.CaptchaBase) * math.Pow(p.CaptchaMult, float64(consecutive))
	if scaled > float64(p.CaptchaMax) {
		scaled = float64(p.CaptchaMax)
	}
	return time.Duration(scaled) + jitter(p.Jitter)
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
