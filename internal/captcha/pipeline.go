// Package captcha implements the fetch → solve → verify pipeline that turns
// an image CAPTCHA into a short-lived verified token.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/egorovli/appointment-monitor/internal/ekonsulat"
	"github.com/egorovli/appointment-monitor/internal/solver"
)

// ErrRejected means the upstream did not accept the solved code. The message
// deliberately contains "captcha" so the classifier picks it up.
var ErrRejected = errors.New("captcha code rejected by upstream")

// Pipeline produces fresh verified tokens. Tokens are never cached or
// reused; every call runs the full fetch/solve/verify cycle.
type Pipeline struct {
	client *ekonsulat.Client
	solver solver.Solver
	width  int
	height int
	logger *slog.Logger
}

// Config holds pipeline configuration.
type Config struct {
	Client *ekonsulat.Client
	Solver solver.Solver
	Width  int
	Height int
	Logger *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	width := cfg.Width
	if width == 0 {
		width = 400
	}
	height := cfg.Height
	if height == 0 {
		height = 120
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client: cfg.Client,
		solver: cfg.Solver,
		width:  width,
		height: height,
		logger: logger.With("component", "captcha"),
	}
}

// SolveVerified runs one full cycle and returns the verified token together
// with the wall-clock duration of the cycle.
func (p *Pipeline) SolveVerified(ctx context.Context) (token string, duration time.Duration, err error) {
	start := time.Now()

	challenge, err := p.client.GenerateCaptcha(ctx, p.width, p.height)
	if err != nil {
		return "", time.Since(start), err
	}

	code, err := p.solver.Solve(ctx, challenge.Image, challenge.Length)
	if err != nil {
		return "", time.Since(start), fmt.Errorf("captcha solve: %w", err)
	}
	if challenge.Length > 0 && len(code) != challenge.Length {
		return "", time.Since(start), fmt.Errorf("captcha solve: got %d characters, expected %d: %w", len(code), challenge.Length, ErrRejected)
	}

	verified, err := p.client.VerifyCaptcha(ctx, code, challenge.ImageToken)
	if err != nil {
		return "", time.Since(start), err
	}
	if !verified.OK || verified.Token == "" {
		p.logger.Debug("captcha rejected", "solver", p.solver.Name(), "code_len", len(code))
		return "", time.Since(start), ErrRejected
	}

	duration = time.Since(start)
	p.logger.Debug("captcha verified",
		"solver", p.solver.Name(),
		"duration_ms", duration.Milliseconds(),
	)
	return verified.Token, duration, nil
}
