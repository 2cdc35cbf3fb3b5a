package refresh

import (
	"context"
	"fmt"
	"time"
)

// AcquisitionKind tells how the tool page was reached
type AcquisitionKind int

const (
	AcquisitionFailed AcquisitionKind = iota
	AcquiredPopup
	AcquiredSameTab
	AcquiredDirect
)

func (k AcquisitionKind) String() string {
	switch k {
	case AcquiredPopup:
		return "popup"
	case AcquiredSameTab:
		return "same_tab"
	case AcquiredDirect:
		return "direct"
	default:
		return "failed"
	}
}

// Target identifies the tool page and how to reach it
type Target struct {
	// FrameURLSubstring selects the child frame holding the trigger
	FrameURLSubstring string
	// Selector locates the trigger control
	Selector string
	// URLPattern is contained in every tool page URL
	URLPattern string
	// FallbackURL is loaded directly when the interactive path fails
	FallbackURL string
}

// AcquisitionResult holds exactly one live page unless Kind is AcquisitionFailed
type AcquisitionResult struct {
	Kind AcquisitionKind
	Page Page
	// Fallback is why the interactive path was abandoned, nil otherwise
	Fallback error
	// Reason describes a failed acquisition
	Reason string
	// Err is the context error when the caller gave up mid-acquisition
	Err error
}

// AcquireTimeouts bounds each acquisition step
type AcquireTimeouts struct {
	Visibility time.Duration
	Race       time.Duration
	Fallback   time.Duration
}

// Acquirer reaches the tool page from a trigger page
type Acquirer struct {
	human    Humanizer
	timeouts AcquireTimeouts
}

// NewAcquirer creates an acquirer
func NewAcquirer(human Humanizer, timeouts AcquireTimeouts) *Acquirer {
	return &Acquirer{human: human, timeouts: timeouts}
}

// Acquire clicks the trigger and races a popup against a same-tab
// navigation. When the control is not visible, the click fails or the race
// times out, the fallback URL is loaded in a new page, once. A done ctx
// ends the attempt without a fallback.
func (a *Acquirer) Acquire(ctx context.Context, session Session, trigger Page, target Target) AcquisitionResult {
	page, kind, err := a.interactive(ctx, session, trigger, target)
	if err == nil {
		return AcquisitionResult{Kind: kind, Page: page}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return AcquisitionResult{Kind: AcquisitionFailed, Reason: ctxErr.Error(), Err: ctxErr}
	}
	return a.fallback(ctx, session, target, err)
}

func (a *Acquirer) interactive(ctx context.Context, session Session, trigger Page, target Target) (Page, AcquisitionKind, error) {
	el, err := trigger.Locate(ctx, target.FrameURLSubstring, target.Selector)
	if err != nil {
		return nil, AcquisitionFailed, fmt.Errorf("failed to locate trigger: %w", err)
	}

	visibleCtx, cancel := context.WithTimeout(ctx, a.timeouts.Visibility)
	err = el.WaitVisible(visibleCtx)
	cancel()
	if err != nil {
		return nil, AcquisitionFailed, fmt.Errorf("%w: %v", ErrTriggerNotVisible, err)
	}

	// Both listeners are armed before the click
	raceCtx, cancelRace := context.WithTimeout(ctx, a.timeouts.Race)
	defer cancelRace()

	match := MatchURL(target.URLPattern)
	popups := session.WaitForPage(raceCtx, match)
	navigations := trigger.WaitForNavigation(raceCtx, match)

	if err := el.Hover(ctx); err != nil {
		return nil, AcquisitionFailed, fmt.Errorf("failed to hover trigger: %w", err)
	}
	if err := a.human.Pause(ctx, 300*time.Millisecond, 600*time.Millisecond); err != nil {
		return nil, AcquisitionFailed, err
	}

	clickCtx, cancelClick := context.WithTimeout(ctx, a.timeouts.Visibility)
	err = el.Click(clickCtx)
	cancelClick()
	if err != nil {
		return nil, AcquisitionFailed, fmt.Errorf("failed to click trigger: %w", err)
	}

	for popups != nil || navigations != nil {
		select {
		case page, ok := <-popups:
			if !ok {
				popups = nil
				continue
			}
			return page, AcquiredPopup, nil
		case _, ok := <-navigations:
			if !ok {
				navigations = nil
				continue
			}
			return trigger, AcquiredSameTab, nil
		case <-raceCtx.Done():
			if ctx.Err() != nil {
				return nil, AcquisitionFailed, ctx.Err()
			}
			return nil, AcquisitionFailed, ErrRaceTimeout
		}
	}

	// Both listeners close once raceCtx is done
	if err := ctx.Err(); err != nil {
		return nil, AcquisitionFailed, err
	}
	return nil, AcquisitionFailed, ErrRaceTimeout
}

func (a *Acquirer) fallback(ctx context.Context, session Session, target Target, cause error) AcquisitionResult {
	failed := func(reason string) AcquisitionResult {
		return AcquisitionResult{Kind: AcquisitionFailed, Fallback: cause, Reason: reason}
	}

	page, err := session.NewPage(ctx)
	if err != nil {
		return failed(fmt.Sprintf("failed to open page for direct navigation: %v", err))
	}

	navCtx, cancel := context.WithTimeout(ctx, a.timeouts.Fallback)
	defer cancel()

	if err := page.Navigate(navCtx, target.FallbackURL); err != nil {
		page.Close()
		result := failed(fmt.Sprintf("button click and direct navigation to %s both failed: %v", target.FallbackURL, err))
		result.Err = ctx.Err()
		return result
	}

	return AcquisitionResult{Kind: AcquiredDirect, Page: page, Fallback: cause}
}
