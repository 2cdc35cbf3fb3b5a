package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"time"

	"github.com/nexconsult/cookie-refresher/internal/models"
)

// Diagnostic keys
const (
	KeyHomeBlocked       = "home-blocked-screenshot"
	KeyToolBlocked       = "tool-blocked-screenshot"
	KeyAcquisitionFailed = "acquisition-failed-screenshot"
	KeyAllCookies        = "all-cookies-debug"
	KeyFreshCookies      = "fresh-cookies"
	KeyLastSessionJar    = "last-session-jar"
)

const (
	contentTypePNG  = "image/png"
	contentTypeJSON = "application/json"
)

// Portal describes the site being refreshed
type Portal struct {
	HomeURL  string
	Tool     Target
	Required models.RequiredCookieSet
}

// Timeouts bounds every wait of a run
type Timeouts struct {
	Navigation time.Duration
	Visibility time.Duration
	Race       time.Duration
	Fallback   time.Duration
}

// Input is what a single run needs
type Input struct {
	Cookies  []models.SessionCookie
	Endpoint string
	ProxyURL string
}

// Orchestrator runs the refresh state machine
type Orchestrator struct {
	launcher    Launcher
	dispatcher  Dispatcher
	diagnostics DiagnosticStore
	human       Humanizer
	acquirer    *Acquirer
	portal      Portal
	timeouts    Timeouts
	now         func() time.Time
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the collaborators of a run
func NewOrchestrator(launcher Launcher, dispatcher Dispatcher, store DiagnosticStore, human Humanizer,
	portal Portal, timeouts Timeouts, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		launcher:    launcher,
		dispatcher:  dispatcher,
		diagnostics: store,
		human:       human,
		portal:      portal,
		timeouts:    timeouts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.acquirer = NewAcquirer(human, AcquireTimeouts{
		Visibility: timeouts.Visibility,
		Race:       timeouts.Race,
		Fallback:   timeouts.Fallback,
	})
	return o
}

// run carries the per-invocation state
type run struct {
	*Orchestrator
	sink     EventSink
	detector *Detector
	jar      []models.SessionCookie
}

// Run performs one refresh and dispatches its result exactly once when the
// endpoint is usable. The returned error is the one that failed the run.
func (o *Orchestrator) Run(ctx context.Context, in Input, sink EventSink) (models.RefreshResult, error) {
	if sink == nil {
		sink = discard{}
	}
	r := &run{Orchestrator: o, sink: sink, detector: NewDetector(sink)}
	start := o.now()

	r.enter(StateInit)

	cookies, err := r.refresh(ctx, in)

	var result models.RefreshResult
	if err == nil {
		result = models.NewSuccessResult(o.now(), cookies)
	} else {
		result = models.NewFailureResult(o.now(), err.Error(), string(CauseOf(err)))
	}

	if endpointErr := validateEndpoint(in.Endpoint); endpointErr == nil {
		err = r.dispatch(ctx, result, in.Endpoint, err)
	}

	if err != nil && result.Success {
		result = models.NewFailureResult(o.now(), err.Error(), string(CauseOf(err)))
	}

	sink.Emit(RunFinished{
		Success:  err == nil,
		Cause:    CauseOf(err),
		Err:      err,
		Duration: o.now().Sub(start),
	})
	return result, err
}

// dispatch delivers result. A delivery failure fails a successful run and
// is only reported on a failed one.
func (r *run) dispatch(ctx context.Context, result models.RefreshResult, endpoint string, runErr error) error {
	// Delivery has its own timeout and must happen even when ctx is done
	dispatchCtx := context.WithoutCancel(ctx)

	deliveryErr := r.dispatcher.Dispatch(dispatchCtx, result, endpoint)
	r.sink.Emit(NotificationSent{Success: result.Success, Err: deliveryErr})
	r.enter(StateDispatched)

	if runErr != nil {
		return runErr
	}
	if deliveryErr != nil {
		return deliveryErr
	}

	if payload, err := json.Marshal(result.Payload()); err == nil {
		r.store(dispatchCtx, KeyFreshCookies, payload, contentTypeJSON)
	}
	if jar, err := json.Marshal(r.jar); err == nil {
		r.store(dispatchCtx, KeyLastSessionJar, jar, contentTypeJSON)
	}
	return nil
}

func (r *run) refresh(ctx context.Context, in Input) ([]models.SessionCookie, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	session, err := r.launcher.Launch(ctx, in.ProxyURL)
	if err != nil {
		return nil, &BrowserError{Op: "failed to launch browser", Err: err}
	}
	defer session.Close()

	if err := session.SetCookies(ctx, in.Cookies); err != nil {
		return nil, &BrowserError{Op: "failed to inject cookies", Err: err}
	}
	r.sink.Emit(CookiesInjected{Count: len(in.Cookies), ByDomain: groupByDomain(in.Cookies)})
	r.enter(StateCookiesInjected)

	home, err := session.NewPage(ctx)
	if err != nil {
		return nil, &BrowserError{Op: "failed to open page", Err: err}
	}

	if err := r.navigate(ctx, home, r.portal.HomeURL); err != nil {
		return nil, err
	}
	r.enter(StateHomeLoaded)

	if err := r.human.Pause(ctx, 4*time.Second, 6*time.Second); err != nil {
		return nil, err
	}

	if err := r.checkpoint(ctx, home, "home", KeyHomeBlocked); err != nil {
		return nil, err
	}
	r.enter(StateHomeChecked)

	if err := r.activity(ctx, home, time.Second, 2*time.Second); err != nil {
		return nil, err
	}
	if err := r.human.MoveMouse(ctx, home); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := r.human.Pause(ctx, time.Second, 2*time.Second); err != nil {
		return nil, err
	}

	acq := r.acquirer.Acquire(ctx, session, home, r.portal.Tool)
	r.sink.Emit(AcquisitionAttempted{
		Kind:     acq.Kind,
		URL:      pageURL(ctx, acq.Page),
		Fallback: acq.Fallback,
		Reason:   acq.Reason,
	})
	if acq.Err != nil {
		return nil, acq.Err
	}
	if acq.Kind == AcquisitionFailed {
		r.capture(ctx, home, KeyAcquisitionFailed)
		return nil, &AcquisitionFailureError{Reason: acq.Reason}
	}
	tool := acq.Page
	r.enter(StateToolAcquired)

	if err := r.human.Pause(ctx, 3*time.Second, 5*time.Second); err != nil {
		return nil, err
	}

	if err := r.checkpoint(ctx, tool, "tool", KeyToolBlocked); err != nil {
		return nil, err
	}
	r.enter(StateToolChecked)

	if err := r.activity(ctx, tool, 1500*time.Millisecond, 2500*time.Millisecond); err != nil {
		return nil, err
	}

	// The trigger page goes back home, whichever page the tool opened in
	if err := r.navigate(ctx, home, r.portal.HomeURL); err != nil {
		return nil, err
	}
	if err := r.human.Pause(ctx, 3*time.Second, 5*time.Second); err != nil {
		return nil, err
	}
	if err := r.reload(ctx, home); err != nil {
		return nil, err
	}
	if err := r.human.Pause(ctx, 3*time.Second, 5*time.Second); err != nil {
		return nil, err
	}
	r.enter(StateHomeReloaded)

	if err := r.activity(ctx, home, time.Second, 2*time.Second); err != nil {
		return nil, err
	}

	jar, err := session.Cookies(ctx)
	if err != nil {
		return nil, &BrowserError{Op: "failed to read cookies", Err: err}
	}
	r.jar = jar

	cookies, err := Extract(jar, r.portal.Required)
	var missingErr *MissingCookiesError
	if errors.As(err, &missingErr) {
		missing := missingErr.Names
		r.sink.Emit(CookiesMissing{Names: missing, JarSize: len(jar)})
		if data, marshalErr := json.Marshal(jar); marshalErr == nil {
			r.store(ctx, KeyAllCookies, data, contentTypeJSON)
		}
		return nil, &CookieExtractionError{Missing: missing, JarSize: len(jar)}
	}
	for _, c := range cookies {
		r.sink.Emit(CookieMatched{Name: c.Name, Domain: c.Domain})
	}
	r.enter(StateCookiesValidated)

	return cookies, nil
}

// checkpoint fails the run on a bot challenge, an expired session or an
// unreadable page. Other categories are reported only.
func (r *run) checkpoint(ctx context.Context, page Page, label, screenshotKey string) error {
	detectCtx, cancel := context.WithTimeout(ctx, r.timeouts.Visibility)
	status, err := r.detector.Detect(detectCtx, page, label)
	cancel()

	switch {
	case err != nil:
		r.capture(ctx, page, screenshotKey)
		return &BlockingDetectedError{Label: label, Err: err}
	case status.IsChallenge():
		r.capture(ctx, page, screenshotKey)
		return &BlockingDetectedError{Label: label, Categories: status.Categories()}
	case status.HasSessionExpired:
		return &SessionExpiredError{Label: label}
	}
	return nil
}

// activity moves the mouse, scrolls and moves again, pausing after each.
// Failed gestures are skipped; only cancellation stops the run.
func (r *run) activity(ctx context.Context, page Page, min, max time.Duration) error {
	steps := []func(context.Context, Page) error{r.human.MoveMouse, r.human.Scroll, r.human.MoveMouse}
	for _, step := range steps {
		if err := step(ctx, page); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.human.Pause(ctx, min, max); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) navigate(ctx context.Context, page Page, target string) error {
	navCtx, cancel := context.WithTimeout(ctx, r.timeouts.Navigation)
	defer cancel()
	if err := page.Navigate(navCtx, target); err != nil {
		return &BrowserError{Op: "failed to navigate to " + target, Err: err}
	}
	return nil
}

func (r *run) reload(ctx context.Context, page Page) error {
	navCtx, cancel := context.WithTimeout(ctx, r.timeouts.Navigation)
	defer cancel()
	if err := page.Reload(navCtx); err != nil {
		return &BrowserError{Op: "failed to reload home page", Err: err}
	}
	return nil
}

// capture stores a screenshot of page, best effort
func (r *run) capture(ctx context.Context, page Page, key string) {
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeouts.Visibility)
	defer cancel()

	data, err := page.Screenshot(shotCtx)
	if err != nil {
		r.sink.Emit(DiagnosticStored{Key: key, Err: err})
		return
	}
	r.store(shotCtx, key, data, contentTypePNG)
}

// store writes a diagnostic, best effort
func (r *run) store(ctx context.Context, key string, data []byte, contentType string) {
	if r.diagnostics == nil {
		return
	}
	err := r.diagnostics.Put(context.WithoutCancel(ctx), key, data, contentType)
	r.sink.Emit(DiagnosticStored{Key: key, Err: err})
}

func (r *run) enter(state State) {
	r.sink.Emit(StateEntered{State: state})
}

func validateInput(in Input) error {
	if err := validateEndpoint(in.Endpoint); err != nil {
		return err
	}
	if len(in.Cookies) == 0 {
		return &InputValidationError{Field: "sessionCookies", Reason: "at least one cookie is required"}
	}
	return nil
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return &InputValidationError{Field: "notificationEndpoint", Reason: "is required"}
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &InputValidationError{Field: "notificationEndpoint", Reason: "must be an absolute http(s) URL"}
	}
	return nil
}

func groupByDomain(cookies []models.SessionCookie) map[string][]string {
	out := make(map[string][]string)
	for _, c := range cookies {
		out[c.Domain] = append(out[c.Domain], c.Name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

func pageURL(ctx context.Context, page Page) string {
	if page == nil {
		return ""
	}
	u, err := page.URL(ctx)
	if err != nil {
		return ""
	}
	return u
}
