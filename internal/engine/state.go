package engine

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/egorovli/appointment-monitor/internal/classify"
	"github.com/egorovli/appointment-monitor/internal/models"
)

// Phase is the coarse lifecycle state of the engine. It only ever advances
// through params → searching → (booking ↔ searching) → success and never
// leaves success.
type Phase string

const (
	PhaseParams    Phase = "params"
	PhaseSearching Phase = "searching"
	PhaseBooking   Phase = "booking"
	PhaseSuccess   Phase = "success"
)

// SearchState is the search loop's side of the state.
type SearchState struct {
	IsRunning   bool                     `json:"isRunning"`
	Attempts    int                      `json:"attempts"`
	LastAttempt time.Time                `json:"lastAttempt"`
	Slots       []models.Slot            `json:"slots"`
	Token       string                   `json:"token"`
	Result      *models.CheckSlotsResult `json:"result,omitempty"`
	Errors      []models.ErrorEntry      `json:"errors"`
}

// ReservationState is the booking loop's side of the state.
type ReservationState struct {
	IsRunning        bool                      `json:"isRunning"`
	Attempts         int                       `json:"attempts"`
	CurrentSlotIndex int                       `json:"currentSlotIndex"`
	Result           *models.ReservationResult `json:"result,omitempty"`
	Errors           []models.ErrorEntry       `json:"errors"`
}

// Stats tracks run counters. All mutations are store actions.
type Stats struct {
	StartTime        time.Time      `json:"startTime"`
	CaptchaSuccesses int            `json:"captchaSuccesses"`
	CaptchaFailures  int            `json:"captchaFailures"`
	SolveTotalMS     int64          `json:"solveTotalMs"`
	ErrorCounts      map[string]int `json:"errorCounts"`
}

// AverageSolveMS returns the mean CAPTCHA solve duration in milliseconds.
func (s Stats) AverageSolveMS() int64 {
	if s.CaptchaSuccesses == 0 {
		return 0
	}
	return s.SolveTotalMS / int64(s.CaptchaSuccesses)
}

// ConsulateDetails names the consulate the run is booking at, resolved once
// from the countries listing.
type ConsulateDetails struct {
	CountryID     string `json:"countryId"`
	CountryName   string `json:"countryName"`
	ConsulateID   string `json:"consulateId"`
	ConsulateName string `json:"consulateName"`
}

// Snapshot is an immutable view of the engine state.
type Snapshot struct {
	RunID       string               `json:"runId"`
	Phase       Phase                `json:"phase"`
	Params      *models.SearchParams `json:"params,omitempty"`
	Search      SearchState          `json:"search"`
	Reservation ReservationState     `json:"reservation"`
	Stats       Stats                `json:"stats"`
	Details     *ConsulateDetails    `json:"details,omitempty"`
}

// Store is the single source of truth for engine state. Every mutation goes
// through one of its action methods; both loops and external observers only
// ever see deep-copied snapshots.
type Store struct {
	mu   sync.Mutex
	s    Snapshot
	subs []func(Snapshot)
}

// NewStore creates a store in the params phase.
func NewStore() *Store {
	return &Store{
		s: Snapshot{
			RunID: ulid.Make().String(),
			Phase: PhaseParams,
			Stats: Stats{ErrorCounts: make(map[string]int)},
		},
	}
}

// Subscribe registers a callback invoked with a fresh snapshot after every
// applied action. Callbacks run outside the store lock.
func (st *Store) Subscribe(fn func(Snapshot)) {
	st.mu.Lock()
	st.subs = append(st.subs, fn)
	st.mu.Unlock()
}

// Snapshot returns a deep copy of the current state.
func (st *Store) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.copyLocked()
}

// Phase returns the current phase.
func (st *Store) Phase() Phase {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Phase
}

// SearchRunning reports whether the search loop is enabled.
func (st *Store) SearchRunning() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Search.IsRunning
}

// Running reports whether either loop is still enabled.
func (st *Store) Running() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Search.IsRunning || st.s.Reservation.IsRunning
}

// SetParams stores the search parameters. Only permitted before the first
// search starts.
func (st *Store) SetParams(p models.SearchParams) bool {
	st.mu.Lock()
	if st.s.Phase != PhaseParams {
		st.mu.Unlock()
		return false
	}
	cp := p
	st.s.Params = &cp
	st.finishLocked()
	return true
}

// StartSearch transitions into searching and clears previous search state.
func (st *Store) StartSearch() bool {
	st.mu.Lock()
	if st.s.Params == nil || st.s.Phase == PhaseSuccess {
		st.mu.Unlock()
		return false
	}
	st.s.Phase = PhaseSearching
	st.s.Search.IsRunning = true
	st.s.Search.Slots = nil
	st.s.Search.Token = ""
	st.s.Search.Result = nil
	st.s.Search.Errors = nil
	if st.s.Stats.StartTime.IsZero() {
		st.s.Stats.StartTime = time.Now()
	}
	st.finishLocked()
	return true
}

// IncrementSearchAttempt counts one search iteration.
func (st *Store) IncrementSearchAttempt() {
	st.mu.Lock()
	if st.s.Phase == PhaseSuccess {
		st.mu.Unlock()
		return
	}
	st.s.Search.Attempts++
	st.s.Search.LastAttempt = time.Now()
	st.finishLocked()
}

// UpdateSearch publishes a fresh (slots, token, result) triple. When the
// token rotated or the list shrank past the booking cursor, the cursor is
// reset to the first slot.
func (st *Store) UpdateSearch(slots []models.Slot, token string, result *models.CheckSlotsResult) {
	st.mu.Lock()
	if st.s.Phase == PhaseSuccess {
		st.mu.Unlock()
		return
	}
	if token != st.s.Search.Token || len(slots) <= st.s.Reservation.CurrentSlotIndex {
		st.s.Reservation.CurrentSlotIndex = 0
	}
	st.s.Search.Slots = append([]models.Slot(nil), slots...)
	st.s.Search.Token = token
	st.s.Search.Result = result
	st.finishLocked()
}

// LogSearchError appends a classified failure to the search error log.
func (st *Store) LogSearchError(e models.ErrorEntry) {
	st.mu.Lock()
	st.s.Search.Errors = append(st.s.Search.Errors, e)
	st.s.Stats.ErrorCounts[e.Class]++
	if e.Class == string(classify.CaptchaRejected) {
		st.s.Stats.CaptchaFailures++
	}
	st.finishLocked()
}

// RecordCaptchaSuccess counts one verified CAPTCHA and its solve duration.
func (st *Store) RecordCaptchaSuccess(d time.Duration) {
	st.mu.Lock()
	st.s.Stats.CaptchaSuccesses++
	st.s.Stats.SolveTotalMS += d.Milliseconds()
	st.finishLocked()
}

// StartReservation transitions searching → booking and resets the booking
// cursor. Requires a non-empty slot list.
func (st *Store) StartReservation() bool {
	st.mu.Lock()
	if st.s.Phase != PhaseSearching || len(st.s.Search.Slots) == 0 {
		st.mu.Unlock()
		return false
	}
	st.s.Phase = PhaseBooking
	st.s.Reservation.IsRunning = true
	st.s.Reservation.Attempts = 0
	st.s.Reservation.CurrentSlotIndex = 0
	st.s.Reservation.Errors = nil
	st.finishLocked()
	return true
}

// IncrementReservationAttempt counts one reservation attempt.
func (st *Store) IncrementReservationAttempt() {
	st.mu.Lock()
	if st.s.Phase != PhaseBooking {
		st.mu.Unlock()
		return
	}
	st.s.Reservation.Attempts++
	st.finishLocked()
}

// TryNextSlot advances the booking cursor, wrapping around the slot list.
func (st *Store) TryNextSlot() {
	st.mu.Lock()
	if st.s.Phase != PhaseBooking || len(st.s.Search.Slots) == 0 {
		st.mu.Unlock()
		return
	}
	st.s.Reservation.CurrentSlotIndex = (st.s.Reservation.CurrentSlotIndex + 1) % len(st.s.Search.Slots)
	st.finishLocked()
}

// LogReservationError appends a classified failure to the booking error log.
func (st *Store) LogReservationError(e models.ErrorEntry) {
	st.mu.Lock()
	st.s.Reservation.Errors = append(st.s.Reservation.Errors, e)
	st.s.Stats.ErrorCounts[e.Class]++
	st.finishLocked()
}

// ReservationSuccess latches the terminal success state. It is the only
// transition into success and is idempotent: the first call wins, later
// calls are ignored.
func (st *Store) ReservationSuccess(result *models.ReservationResult) bool {
	st.mu.Lock()
	if st.s.Phase != PhaseBooking || st.s.Reservation.Result != nil {
		st.mu.Unlock()
		return false
	}
	st.s.Reservation.Result = result
	st.s.Phase = PhaseSuccess
	st.s.Search.IsRunning = false
	st.s.Reservation.IsRunning = false
	st.finishLocked()
	return true
}

// StopAll disables both loops without changing the phase.
func (st *Store) StopAll() {
	st.mu.Lock()
	st.s.Search.IsRunning = false
	st.s.Reservation.IsRunning = false
	st.finishLocked()
}

// SetDetails records the resolved consulate details. First write wins.
func (st *Store) SetDetails(d ConsulateDetails) {
	st.mu.Lock()
	if st.s.Details != nil {
		st.mu.Unlock()
		return
	}
	cp := d
	st.s.Details = &cp
	st.finishLocked()
}

// finishLocked copies the state, releases the lock, and fans the snapshot
// out to subscribers. Must be called with the lock held.
func (st *Store) finishLocked() {
	snap := st.copyLocked()
	subs := st.subs
	st.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (st *Store) copyLocked() Snapshot {
	snap := st.s

	if st.s.Params != nil {
		p := *st.s.Params
		snap.Params = &p
	}
	snap.Search.Slots = append([]models.Slot(nil), st.s.Search.Slots...)
	snap.Search.Errors = append([]models.ErrorEntry(nil), st.s.Search.Errors...)
	snap.Reservation.Errors = append([]models.ErrorEntry(nil), st.s.Reservation.Errors...)
	if st.s.Search.Result != nil {
		r := *st.s.Search.Result
		r.Slots = append([]models.Slot(nil), st.s.Search.Result.Slots...)
		snap.Search.Result = &r
	}
	if st.s.Reservation.Result != nil {
		r := *st.s.Reservation.Result
		r.Tickets = append([]models.ReservationTicket(nil), st.s.Reservation.Result.Tickets...)
		snap.Reservation.Result = &r
	}
	if st.s.Details != nil {
		d := *st.s.Details
		snap.Details = &d
	}
	snap.Stats.ErrorCounts = make(map[string]int, len(st.s.Stats.ErrorCounts))
	for k, v := range st.s.Stats.ErrorCounts {
		snap.Stats.ErrorCounts[k] = v
	}
	return snap
}
