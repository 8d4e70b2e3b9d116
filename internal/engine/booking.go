package engine

import (
	"context"

	"github.com/egorovli/appointment-monitor/internal/classify"
	"github.com/egorovli/appointment-monitor/internal/models"
)

// bookingLoop is the consumer: once slots are visible it races
// createReservation over them in cursor order, always pairing the attempt
// with the token published alongside the slots it read. The first confirmed
// ticket latches the success phase and stops everything.
func (e *Engine) bookingLoop(ctx context.Context, params models.SearchParams) {
	logger := e.logger.With("loop", "booking")

	for ctx.Err() == nil && e.store.Running() && e.store.Phase() != PhaseSuccess {
		snap := e.store.Snapshot()

		if len(snap.Search.Slots) == 0 {
			if !sleep(ctx, e.emptyPollDelay) {
				return
			}
			continue
		}

		if snap.Phase == PhaseSearching {
			e.ensureDetails(ctx, params)
			if !e.store.StartReservation() {
				continue
			}
			snap = e.store.Snapshot()
		}

		// Slots and token come from the same snapshot: the attempt never
		// pairs a stale token with fresh slots or vice versa.
		idx := snap.Reservation.CurrentSlotIndex
		if idx >= len(snap.Search.Slots) {
			if !sleep(ctx, e.emptyPollDelay) {
				return
			}
			continue
		}
		slot := snap.Search.Slots[idx]

		e.store.IncrementReservationAttempt()
		result, err := e.client.CreateReservation(ctx, slot.Date, params.LocationID, snap.Search.Token, params.PartySize, params.OnlyChildren)
		if err == nil {
			e.store.StopAll()
			e.cancelInFlight()
			e.store.ReservationSuccess(result)
			logger.Info("reservation confirmed",
				"ticket_id", result.PrimaryTicket.TicketID,
				"date", result.PrimaryTicket.Date,
				"attempts", e.store.Snapshot().Reservation.Attempts,
			)
			return
		}
		if e.store.Phase() == PhaseSuccess {
			return
		}

		class, reason := classify.Classify(err)
		e.store.LogReservationError(models.NewErrorEntry(string(class), err.Error(), reason, "reservation"))

		switch class {
		case classify.RateLimitHard:
			logger.Error("hard rate limit, stopping session", "reason", reason)
			e.store.StopAll()
			e.cancelInFlight()
			return
		case classify.SlotUnavailable:
			e.store.TryNextSlot()
			logger.Debug("slot taken, rotating",
				"date", slot.Date,
				"next_index", e.store.Snapshot().Reservation.CurrentSlotIndex,
			)
			delay, _ := e.policy.Delay(class, 0)
			if !sleep(ctx, delay) {
				return
			}
		default:
			logger.Debug("reservation retry",
				"class", class,
				"reason", reason,
				"date", slot.Date,
			)
			delay, fatal := e.policy.Delay(class, 0)
			if fatal {
				e.store.StopAll()
				e.cancelInFlight()
				return
			}
			if !sleep(ctx, delay) {
				return
			}
		}
	}
}
