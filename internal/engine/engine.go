// Package engine implements the dual-loop polling-and-booking engine: a
// CAPTCHA-gated search loop producing fresh (token, slot-list) pairs, a
// booking loop racing reservations over them, and the shared state machine
// coordinating both.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/egorovli/appointment-monitor/internal/backoff"
	"github.com/egorovli/appointment-monitor/internal/captcha"
	"github.com/egorovli/appointment-monitor/internal/ekonsulat"
	"github.com/egorovli/appointment-monitor/internal/models"
)

// Engine coordinates the search and booking loops over a shared Store.
type Engine struct {
	store    *Store
	client   *ekonsulat.Client
	pipeline *captcha.Pipeline
	policy   backoff.Policy

	emptyPollDelay time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Config holds engine dependencies.
type Config struct {
	Client   *ekonsulat.Client
	Pipeline *captcha.Pipeline
	Policy   backoff.Policy

	// EmptyPollDelay is how long the booking loop naps while the slot list
	// is empty.
	EmptyPollDelay time.Duration
	Logger         *slog.Logger
}

// New creates an engine in the params phase.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emptyPoll := cfg.EmptyPollDelay
	if emptyPoll == 0 {
		emptyPoll = 100 * time.Millisecond
	}
	return &Engine{
		store:          NewStore(),
		client:         cfg.Client,
		pipeline:       cfg.Pipeline,
		policy:         cfg.Policy,
		emptyPollDelay: emptyPoll,
		logger:         logger.With("component", "engine"),
	}
}

// Configure stores the search parameters. Must be called before Start.
func (e *Engine) Configure(p models.SearchParams) error {
	if p.LocationID == "" {
		return fmt.Errorf("configure: location id is empty")
	}
	if p.PartySize <= 0 {
		return fmt.Errorf("configure: party size must be positive, got %d", p.PartySize)
	}
	if !e.store.SetParams(p) {
		return fmt.Errorf("configure: engine already started")
	}
	return nil
}

// Start launches both loops. It returns immediately; observe progress via
// Subscribe/Snapshot and completion via Done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("start: engine already running")
	}
	if !e.store.StartSearch() {
		return fmt.Errorf("start: engine not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true

	params := *e.store.Snapshot().Params

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.searchLoop(runCtx, params)
	}()
	go func() {
		defer wg.Done()
		e.bookingLoop(runCtx, params)
	}()
	go func() {
		wg.Wait()
		cancel()
		close(e.done)
	}()

	e.logger.Info("engine started",
		"run_id", e.store.Snapshot().RunID,
		"location_id", params.LocationID,
		"party_size", params.PartySize,
	)
	return nil
}

// Stop disables both loops, aborts in-flight calls, and waits for the loops
// to return. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done, started := e.cancel, e.done, e.started
	e.mu.Unlock()
	if !started {
		return
	}
	e.store.StopAll()
	cancel()
	<-done
}

// Done is closed once both loops have returned.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	return e.store.Snapshot()
}

// Subscribe registers a snapshot callback; see Store.Subscribe.
func (e *Engine) Subscribe(fn func(Snapshot)) {
	e.store.Subscribe(fn)
}

// cancelInFlight aborts in-flight HTTP calls. Fired before the success
// action is published so a concurrent checkSlots cannot land after success.
func (e *Engine) cancelInFlight() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ensureDetails resolves consulate details once from the countries listing.
// Failure is cosmetic and only logged.
func (e *Engine) ensureDetails(ctx context.Context, params models.SearchParams) {
	if e.store.Snapshot().Details != nil {
		return
	}
	countries, err := e.client.Countries(ctx)
	if err != nil {
		e.logger.Warn("consulate details unavailable", "error", err)
		return
	}
	for _, country := range countries {
		if params.CountryName != "" && !strings.EqualFold(country.Name, params.CountryName) {
			continue
		}
		for _, consulate := range country.Consulates {
			if params.ConsulateName != "" && !strings.EqualFold(consulate.Name, params.ConsulateName) {
				continue
			}
			e.store.SetDetails(ConsulateDetails{
				CountryID:     country.ID,
				CountryName:   country.Name,
				ConsulateID:   consulate.ID,
				ConsulateName: consulate.Name,
			})
			return
		}
	}
	e.logger.Warn("consulate not found in listing",
		"country", params.CountryName,
		"consulate", params.ConsulateName,
	)
}

// sleep waits for d or until ctx is cancelled. Returns false on
// cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
