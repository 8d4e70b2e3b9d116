package engine

import (
	"context"

	"github.com/egorovli/appointment-monitor/internal/classify"
	"github.com/egorovli/appointment-monitor/internal/models"
)

// searchLoop is the producer: it acquires a verified CAPTCHA token, polls
// the slot endpoint, and publishes (slots, token, result) into the store.
// It runs until disabled, cancelled, or the booking loop latches success.
func (e *Engine) searchLoop(ctx context.Context, params models.SearchParams) {
	logger := e.logger.With("loop", "search")
	consecutiveCaptcha := 0

	for ctx.Err() == nil && e.store.SearchRunning() && e.store.Phase() != PhaseSuccess {
		e.store.IncrementSearchAttempt()

		err := func() error {
			token, solveDuration, err := e.pipeline.SolveVerified(ctx)
			if err != nil {
				return err
			}
			e.store.RecordCaptchaSuccess(solveDuration)
			consecutiveCaptcha = 0

			result, err := e.client.CheckSlots(ctx, params.LocationID, params.PartySize, token)
			if err != nil {
				return err
			}
			if e.store.Phase() == PhaseSuccess {
				return nil
			}

			// The upstream sometimes omits the token from the slot
			// response; the verified CAPTCHA token stands in for it.
			if result.Token == "" {
				result.Token = token
			}
			e.store.UpdateSearch(result.Slots, result.Token, result)

			logger.Debug("slots published",
				"slots", len(result.Slots),
				"attempt", e.store.Snapshot().Search.Attempts,
			)
			sleep(ctx, e.policy.SearchInterval())
			return nil
		}()
		if err == nil {
			continue
		}
		if e.store.Phase() == PhaseSuccess {
			return
		}

		class, reason := classify.Classify(err)
		e.store.LogSearchError(models.NewErrorEntry(string(class), err.Error(), reason, "search"))

		switch class {
		case classify.RateLimitHard:
			logger.Error("hard rate limit, stopping session", "reason", reason)
			e.store.StopAll()
			e.cancelInFlight()
			return
		case classify.CaptchaRejected:
			consecutiveCaptcha++
		case classify.RateLimitSoft, classify.Network, classify.Timeout:
			consecutiveCaptcha = 0
		}

		delay, fatal := e.policy.Delay(class, consecutiveCaptcha)
		if fatal {
			e.store.StopAll()
			e.cancelInFlight()
			return
		}
		logger.Debug("search backoff",
			"class", class,
			"delay_ms", delay.Milliseconds(),
			"consecutive_captcha", consecutiveCaptcha,
		)
		if !sleep(ctx, delay) {
			return
		}
	}
}
