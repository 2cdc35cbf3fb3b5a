package refresh

import (
	"context"
	"strings"
	"time"

	"github.com/nexconsult/cookie-refresher/internal/models"
)

// Launcher starts an isolated browser session
type Launcher interface {
	// Launch starts a browser whose traffic goes through proxyURL when set
	Launch(ctx context.Context, proxyURL string) (Session, error)
}

// Session is one browser context with its own cookie jar
type Session interface {
	// SetCookies adds cookies to the jar before any navigation
	SetCookies(ctx context.Context, cookies []models.SessionCookie) error

	// Cookies returns every cookie in the jar, all domains included
	Cookies(ctx context.Context) ([]models.SessionCookie, error)

	// NewPage opens a page. The first call returns the initial tab.
	NewPage(ctx context.Context) (Page, error)

	// WaitForPage arms a listener for a new page whose URL satisfies match.
	// The listener is registered before WaitForPage returns. The channel
	// yields at most one page and is closed once ctx is done.
	WaitForPage(ctx context.Context, match func(url string) bool) <-chan Page

	// Close releases the browser and every page it owns
	Close() error
}

// Page is a single browser tab
type Page interface {
	// Navigate loads url and waits for the document to load
	Navigate(ctx context.Context, url string) error

	// Reload reloads the current document bypassing the cache
	Reload(ctx context.Context) error

	// URL returns the current top-level URL
	URL(ctx context.Context) (string, error)

	// HTML returns the serialized document
	HTML(ctx context.Context) (string, error)

	// Screenshot captures the full page as PNG
	Screenshot(ctx context.Context) ([]byte, error)

	// Locate resolves selector inside the child frame whose URL contains
	// frameURL, or inside the top-level document when no frame matches.
	Locate(ctx context.Context, frameURL, selector string) (Element, error)

	// WaitForNavigation arms a listener for a top-level navigation whose URL
	// satisfies match. Same contract as Session.WaitForPage.
	WaitForNavigation(ctx context.Context, match func(url string) bool) <-chan string

	// MouseMove moves the pointer to (x, y) in the given number of steps
	MouseMove(ctx context.Context, x, y float64, steps int) error

	// ScrollBy scrolls the window vertically
	ScrollBy(ctx context.Context, dy int) error

	// Close closes the tab
	Close() error
}

// Element is a located control
type Element interface {
	WaitVisible(ctx context.Context) error
	Hover(ctx context.Context) error
	Click(ctx context.Context) error
}

// Humanizer produces human-looking activity between steps
type Humanizer interface {
	// Pause sleeps for a random duration in [min, max]
	Pause(ctx context.Context, min, max time.Duration) error

	// MoveMouse moves the pointer to a random spot on the page
	MoveMouse(ctx context.Context, page Page) error

	// Scroll scrolls the page by a random amount
	Scroll(ctx context.Context, page Page) error
}

// DiagnosticStore keeps artifacts for manual inspection
type DiagnosticStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Dispatcher delivers a run result to the notification endpoint
type Dispatcher interface {
	Dispatch(ctx context.Context, result models.RefreshResult, endpoint string) error
}

// MatchURL returns a matcher accepting URLs that contain pattern
func MatchURL(pattern string) func(string) bool {
	return func(url string) bool {
		return pattern != "" && strings.Contains(url, pattern)
	}
}
