package engine

import (
	"testing"
	"time"

	"github.com/egorovli/appointment-monitor/internal/classify"
	"github.com/egorovli/appointment-monitor/internal/models"
)

func testParams() models.SearchParams {
	return models.SearchParams{LocationID: "191", PartySize: 1}
}

func slots(dates ...string) []models.Slot {
	out := make([]models.Slot, len(dates))
	for i, d := range dates {
		out[i] = models.Slot{Date: d}
	}
	return out
}

func TestStore_InitialState(t *testing.T) {
	st := NewStore()
	snap := st.Snapshot()
	if snap.Phase != PhaseParams {
		t.Errorf("Phase = %q, want %q", snap.Phase, PhaseParams)
	}
	if snap.RunID == "" {
		t.Error("RunID is empty")
	}
	if snap.Stats.ErrorCounts == nil {
		t.Error("ErrorCounts is nil")
	}
}

func TestStore_SetParamsOnlyInParamsPhase(t *testing.T) {
	st := NewStore()
	if !st.SetParams(testParams()) {
		t.Fatal("SetParams rejected in params phase")
	}
	st.StartSearch()
	if st.SetParams(models.SearchParams{LocationID: "200", PartySize: 2}) {
		t.Error("SetParams accepted after search started")
	}
	if st.Snapshot().Params.LocationID != "191" {
		t.Error("params were overwritten after start")
	}
}

func TestStore_StartSearchRequiresParams(t *testing.T) {
	st := NewStore()
	if st.StartSearch() {
		t.Error("StartSearch accepted without params")
	}
	st.SetParams(testParams())
	if !st.StartSearch() {
		t.Error("StartSearch rejected with params set")
	}
	snap := st.Snapshot()
	if snap.Phase != PhaseSearching || !snap.Search.IsRunning {
		t.Errorf("after StartSearch: phase=%q running=%v", snap.Phase, snap.Search.IsRunning)
	}
	if snap.Stats.StartTime.IsZero() {
		t.Error("StartTime not set")
	}
}

func TestStore_StartReservationRequiresSlots(t *testing.T) {
	st := NewStore()
	st.SetParams(testParams())
	st.StartSearch()

	if st.StartReservation() {
		t.Error("StartReservation accepted with no slots")
	}
	st.UpdateSearch(slots("2026-01-12"), "T1", nil)
	if !st.StartReservation() {
		t.Error("StartReservation rejected with slots present")
	}
	if got := st.Phase(); got != PhaseBooking {
		t.Errorf("Phase = %q, want %q", got, PhaseBooking)
	}
}

func TestStore_TokenRotationResetsCursor(t *testing.T) {
	st := NewStore()
	st.SetParams(testParams())
	st.StartSearch()
	st.UpdateSearch(slots("2026-01-12", "2026-01-13", "2026-01-14"), "T1", nil)
	st.StartReservation()

	st.TryNextSlot()
	st.TryNextSlot()
	if got := st.Snapshot().Reservation.CurrentSlotIndex; got != 2 {
		t.Fatalf("cursor = %d, want 2", got)
	}

	// Same token, same length: cursor survives.
	st.UpdateSearch(slots("2026-01-12", "2026-01-13", "2026-01-14"), "T1", nil)
	if got := st.Snapshot().Reservation.CurrentSlotIndex; got != 2 {
		t.Errorf("cursor after same-token update = %d, want 2", got)
	}

	// Rotated token: cursor resets.
	st.UpdateSearch(slots("2026-01-12", "2026-01-13", "2026-01-14"), "T2", nil)
	if got := st.Snapshot().Reservation.CurrentSlotIndex; got != 0 {
		t.Errorf("cursor after token rotation = %d, want 0", got)
	}
}

func TestStore_ShrunkSlotListResetsCursor(t *testing.T) {
	st := NewStore()
	st.SetParams(testParams())
	st.StartSearch()
	st.UpdateSearch(slots("2026-01-12", "2026-01-13", "2026-01-14"), "T1", nil)
	st.StartReservation()
	st.TryNextSlot()
	st.TryNextSlot()

	// List shrinks past the cursor under the same token.
	st.UpdateSearch(slots("2026-01-12"), "T1", nil)
	if got := st.Snapshot().Reservation.CurrentSlotIndex; got != 0 {
		t.Errorf("cursor after shrink = %d, want 0", got)
	}
}

func TestStore_TryNextSlotWraps(t *testing.T) {
	st := NewStore()
	st.SetParams(testParams())
	st.StartSearch()
	st.UpdateSearch(slots("2026-01-12", "2026-01-13"), "T1", nil)
	st.StartReservation()

	st.TryNextSlot()
	if got := st.Snapshot().Reservation.CurrentSlotIndex; got != 1 {
		t.Fatalf("cursor = %d, want 1", got)
	}
	st.TryNextSlot()
	if got := st.Snapshot().Reservation.CurrentSlotIndex; got != 0 {
		t.Errorf("cursor after wrap = %d, want 0", got)
	}
}

func TestStore_ReservationSuccessLatches(t *testing.T) {
	st := NewStore()
	st.SetParams(testParams())
	st.StartSearch()
	st.UpdateSearch(slots("2026-01-12"), "T1", nil)
	st.StartReservation()

	first := &models.ReservationResult{PrimaryTicket: models.ReservationTicket{TicketID: "DAAA-0001"}}
	if !st.ReservationSuccess(first) {
		t.Fatal("first ReservationSuccess rejected")
	}
	snap := st.Snapshot()
	if snap.Phase != PhaseSuccess {
		t.Errorf("Phase = %q, want %q", snap.Phase, PhaseSuccess)
	}
	if snap.Search.IsRunning || snap.Reservation.IsRunning {
		t.Error("loops still running after success")
	}

	// Second call must be ignored.
	second := &models.ReservationResult{PrimaryTicket: models.ReservationTicket{TicketID: "DAAA-0002"}}
	if st.ReservationSuccess(second) {
		t.Error("second ReservationSuccess accepted")
	}
	if got := st.Snapshot().Reservation.Result.PrimaryTicket.TicketID; got != "DAAA-0001" {
		t.Errorf("result overwritten: %q", got)
	}
}

func TestStore_SuccessIsAbsorbing(t *testing.T) {
	st := NewStore()
	st.SetParams(testParams())
	st.StartSearch()
	st.UpdateSearch(slots("2026-01-12"), "T1", nil)
	st.StartReservation()
	st.ReservationSuccess(&models.ReservationResult{PrimaryTicket: models.ReservationTicket{TicketID: "DAAA-0001"}})

	if st.StartSearch() {
		t.Error("StartSearch accepted after success")
	}
	st.IncrementSearchAttempt()
	if got := st.Snapshot().Search.Attempts; got != 0 {
		t.Errorf("attempts incremented after success: %d", got)
	}

	// A late slot publication must not disturb the terminal state.
	st.UpdateSearch(slots("2026-02-01"), "T9", nil)
	snap := st.Snapshot()
	if snap.Phase != PhaseSuccess {
		t.Errorf("Phase = %q after late update, want %q", snap.Phase, PhaseSuccess)
	}
	if snap.Search.Token == "T9" {
		t.Error("late update overwrote the search token after success")
	}
}

func TestStore_ErrorBookkeeping(t *testing.T) {
	st := NewStore()
	st.SetParams(testParams())
	st.StartSearch()

	st.LogSearchError(models.NewErrorEntry(string(classify.CaptchaRejected), "bad code", "", "search"))
	st.LogSearchError(models.NewErrorEntry(string(classify.Network), "refused", "", "search"))
	st.LogReservationError(models.NewErrorEntry(string(classify.SlotUnavailable), "taken", "TERMIN_ZAJETY", "reservation"))

	snap := st.Snapshot()
	if len(snap.Search.Errors) != 2 {
		t.Errorf("search errors = %d, want 2", len(snap.Search.Errors))
	}
	if len(snap.Reservation.Errors) != 1 {
		t.Errorf("reservation errors = %d, want 1", len(snap.Reservation.Errors))
	}
	if snap.Stats.CaptchaFailures != 1 {
		t.Errorf("CaptchaFailures = %d, want 1", snap.Stats.CaptchaFailures)
	}
	if snap.Stats.ErrorCounts[string(classify.CaptchaRejected)] != 1 ||
		snap.Stats.ErrorCounts[string(classify.Network)] != 1 ||
		snap.Stats.ErrorCounts[string(classify.SlotUnavailable)] != 1 {
		t.Errorf("ErrorCounts = %v", snap.Stats.ErrorCounts)
	}
}

func TestStore_CaptchaStats(t *testing.T) {
	st := NewStore()
	st.RecordCaptchaSuccess(4 * time.Second)
	st.RecordCaptchaSuccess(2 * time.Second)

	snap := st.Snapshot()
	if snap.Stats.CaptchaSuccesses != 2 {
		t.Errorf("CaptchaSuccesses = %d, want 2", snap.Stats.CaptchaSuccesses)
	}
	if got := snap.Stats.AverageSolveMS(); got != 3000 {
		t.Errorf("AverageSolveMS() = %d, want 3000", got)
	}
}

func TestStore_SetDetailsFirstWriteWins(t *testing.T) {
	st := NewStore()
	st.SetDetails(ConsulateDetails{ConsulateID: "17", ConsulateName: "Grodno"})
	st.SetDetails(ConsulateDetails{ConsulateID: "18", ConsulateName: "Mińsk"})
	if got := st.Snapshot().Details.ConsulateName; got != "Grodno" {
		t.Errorf("Details.ConsulateName = %q, want Grodno", got)
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	st := NewStore()
	st.SetParams(testParams())
	st.StartSearch()
	st.UpdateSearch(slots("2026-01-12"), "T1", nil)

	snap := st.Snapshot()
	snap.Search.Slots[0].Date = "mutated"
	snap.Stats.ErrorCounts["injected"] = 99

	fresh := st.Snapshot()
	if fresh.Search.Slots[0].Date != "2026-01-12" {
		t.Error("snapshot mutation leaked into the store")
	}
	if _, ok := fresh.Stats.ErrorCounts["injected"]; ok {
		t.Error("error-count mutation leaked into the store")
	}
}

func TestStore_SubscriberSeesEveryAction(t *testing.T) {
	st := NewStore()
	var phases []Phase
	st.Subscribe(func(s Snapshot) { phases = append(phases, s.Phase) })

	st.SetParams(testParams())
	st.StartSearch()
	st.UpdateSearch(slots("2026-01-12"), "T1", nil)
	st.StartReservation()

	want := []Phase{PhaseParams, PhaseSearching, PhaseSearching, PhaseBooking}
	if len(phases) != len(want) {
		t.Fatalf("notifications = %d, want %d", len(phases), len(want))
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("notification %d = %q, want %q", i, phases[i], want[i])
		}
	}
}
