package services

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/nexconsult/cookie-refresher/internal/refresh"
)

const (
	minPause        = 100 * time.Millisecond
	jitterRange     = 80
	driftAmplitude  = 12.0
	driftFrequency  = 0.8
	mouseAreaOrigin = 50
	mouseAreaSize   = 600
)

// Humanizer produces randomized pauses, pointer movement and scrolling
type Humanizer struct {
	mu     sync.Mutex
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
	start  time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewHumanizer creates a humanizer. A zero seed uses the current time.
func NewHumanizer(seed int64) *Humanizer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Humanizer{
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(2, 2, 3, seed),
		noiseY: perlin.NewPerlin(2, 2, 3, seed+1),
		start:  time.Now(),
		sleep:  sleepContext,
	}
}

// Pause sleeps for a random duration between min and max, with jitter
func (h *Humanizer) Pause(ctx context.Context, min, max time.Duration) error {
	return h.sleep(ctx, h.delay(min, max))
}

// MoveMouse moves the pointer to a random point near the top-left area of
// the viewport, drifting along Perlin noise
func (h *Humanizer) MoveMouse(ctx context.Context, page refresh.Page) error {
	h.mu.Lock()
	elapsed := time.Since(h.start).Seconds() * driftFrequency
	x := float64(mouseAreaOrigin+h.rng.Intn(mouseAreaSize)+h.jitter()) + h.noiseX.Noise1D(elapsed)*driftAmplitude
	y := float64(mouseAreaOrigin+h.rng.Intn(mouseAreaSize)+h.jitter()) + h.noiseY.Noise1D(elapsed)*driftAmplitude
	steps := 8 + h.rng.Intn(8)
	h.mu.Unlock()

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}

	if err := page.MouseMove(ctx, x, y, steps); err != nil {
		return err
	}
	return h.Pause(ctx, 300*time.Millisecond, 800*time.Millisecond)
}

// Scroll scrolls the page down by a random amount
func (h *Humanizer) Scroll(ctx context.Context, page refresh.Page) error {
	h.mu.Lock()
	amount := 150 + h.rng.Intn(400) + h.jitter()
	h.mu.Unlock()

	if err := page.ScrollBy(ctx, amount); err != nil {
		return err
	}
	return h.Pause(ctx, 500*time.Millisecond, time.Second)
}

func (h *Humanizer) delay(min, max time.Duration) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	d := min
	if max > min {
		d += time.Duration(h.rng.Int63n(int64(max - min)))
	}
	d += time.Duration(h.jitter()) * time.Millisecond
	if d < minPause {
		d = minPause
	}
	return d
}

// jitter returns an offset in [-40, 40). Callers hold h.mu.
func (h *Humanizer) jitter() int {
	return h.rng.Intn(jitterRange) - jitterRange/2
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
