package services

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nexconsult/cookie-refresher/internal/refresh"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type mouseMove struct {
	x, y  float64
	steps int
}

// recordingPage records pointer and scroll gestures
type recordingPage struct {
	mu      sync.Mutex
	moves   []mouseMove
	scrolls []int
}

func (p *recordingPage) Navigate(context.Context, string) error { return nil }
func (p *recordingPage) Reload(context.Context) error { return nil }
func (p *recordingPage) URL(context.Context) (string, error) { return "", nil }
func (p *recordingPage) HTML(context.Context) (string, error) { return "", nil }
func (p *recordingPage) Screenshot(context.Context) ([]byte, error) { return nil, nil }
func (p *recordingPage) Close() error { return nil }

func (p *recordingPage) Locate(context.Context, string, string) (refresh.Element, error) {
	return nil, nil
}

func (p *recordingPage) WaitForNavigation(ctx context.Context, _ func(string) bool) <-chan string {
	ch := make(chan string)
	close(ch)
	return ch
}

func (p *recordingPage) MouseMove(_ context.Context, x, y float64, steps int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves = append(p.moves, mouseMove{x: x, y: y, steps: steps})
	return nil
}

func (p *recordingPage) ScrollBy(_ context.Context, dy int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, dy)
	return nil
}
