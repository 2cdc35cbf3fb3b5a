package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexconsult/cookie-refresher/internal/models"
)

type harness struct {
	site       *fakeSite
	session    *fakeSession
	launcher   *fakeLauncher
	dispatcher *fakeDispatcher
	store      *fakeStore
	human      *fakeHumanizer
	recorder   *Recorder
	trigger    *fakeElement
}

func newHarness() *harness {
	site := newFakeSite()
	session := newFakeSession(site)
	session.jar = append(requiredJar(),
		models.SessionCookie{Name: "_ga", Value: "GA1", Domain: ".manheim.com", Path: "/"},
	)

	h := &harness{
		site:       site,
		session:    session,
		launcher:   &fakeLauncher{session: session},
		dispatcher: &fakeDispatcher{},
		store:      newFakeStore(),
		human:      &fakeHumanizer{},
		recorder:   &Recorder{},
		trigger:    &fakeElement{},
	}

	// The trigger navigates the home tab to the tool by default
	session.home.element = h.trigger
	h.trigger.onClick = func() { session.home.navigateInTab(testToolURL) }
	return h
}

func (h *harness) orchestrator(opts ...Option) *Orchestrator {
	return NewOrchestrator(h.launcher, h.dispatcher, h.store, h.human, Portal{
		HomeURL:  testHomeURL,
		Tool:     testTarget,
		Required: models.DefaultRequiredCookies,
	}, testTimeouts(), opts...)
}

func (h *harness) run(t *testing.T, in Input) (models.RefreshResult, error) {
	t.Helper()
	return h.orchestrator().Run(context.Background(), in, h.recorder)
}

func validInput() Input {
	return Input{Cookies: staleCookies(), Endpoint: testEndpoint}
}

func (h *harness) acquisition(t *testing.T) AcquisitionAttempted {
	t.Helper()
	for _, e := range h.recorder.Events() {
		if a, ok := e.(AcquisitionAttempted); ok {
			return a
		}
	}
	t.Fatal("no acquisition event recorded")
	return AcquisitionAttempted{}
}

func TestRunHappyPathSameTab(t *testing.T) {
	h := newHarness()

	result, err := h.run(t, validInput())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, requiredJar(), result.Cookies)
	_, parseErr := time.Parse(models.TimestampLayout, models.FormatTimestamp(result.Timestamp))
	assert.NoError(t, parseErr)

	require.Len(t, h.dispatcher.calls, 1)
	assert.True(t, h.dispatcher.calls[0].result.Success)
	assert.Equal(t, testEndpoint, h.dispatcher.calls[0].endpoint)

	assert.Equal(t, States, h.recorder.States())
	assert.Equal(t, AcquiredSameTab, h.acquisition(t).Kind)
	assert.Equal(t, staleCookies(), h.session.injected)
	assert.Equal(t, 1, h.session.closeCount())

	// Home, then back home before the reload
	assert.Equal(t, []string{testHomeURL, testHomeURL}, h.session.home.navigated())
	assert.Equal(t, 1, h.session.home.reloads)
	assert.Greater(t, h.session.home.moves, 0)
	assert.Greater(t, h.session.home.scrolls, 0)

	fresh, ok := h.store.get(KeyFreshCookies)
	require.True(t, ok)
	var payload models.WebhookPayload
	require.NoError(t, json.Unmarshal(fresh.data, &payload))
	assert.True(t, payload.Success)
	assert.Len(t, payload.Cookies, 4)

	jar, ok := h.store.get(KeyLastSessionJar)
	require.True(t, ok)
	var saved []models.SessionCookie
	require.NoError(t, json.Unmarshal(jar.data, &saved))
	assert.Len(t, saved, 5)
}

func TestRunHappyPathPopup(t *testing.T) {
	h := newHarness()
	var popup *fakePage
	h.trigger.onClick = func() { popup = h.session.openPopup(testToolURL) }

	result, err := h.run(t, validInput())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, AcquiredPopup, h.acquisition(t).Kind)

	// Activity happens on the popup; the home tab still goes back home
	assert.Greater(t, popup.moves, 0)
	assert.Equal(t, []string{testHomeURL, testHomeURL}, h.session.home.navigated())
}

func TestRunBlockedOnHomePage(t *testing.T) {
	h := newHarness()
	h.site.set(testHomeURL, "<html><body><h1>Please verify you are human</h1></body></html>")

	result, err := h.run(t, validInput())

	var blocking *BlockingDetectedError
	require.True(t, errors.As(err, &blocking))
	assert.Equal(t, "home", blocking.Label)
	assert.Equal(t, CauseBlockingDetected, CauseOf(err))

	assert.False(t, result.Success)
	assert.Nil(t, result.Cookies)
	assert.Equal(t, err.Error(), result.Error)

	require.Len(t, h.dispatcher.calls, 1)
	sent := h.dispatcher.calls[0].result
	assert.False(t, sent.Success)
	assert.Equal(t, err.Error(), sent.Error)

	shot, ok := h.store.get(KeyHomeBlocked)
	require.True(t, ok)
	assert.Equal(t, "image/png", shot.contentType)

	assert.Equal(t, 1, h.session.closeCount())
	assert.Equal(t, []State{StateInit, StateCookiesInjected, StateHomeLoaded, StateDispatched}, h.recorder.States())
	assert.Equal(t, 0, h.trigger.clickCount())
}

func TestRunSessionExpired(t *testing.T) {
	h := newHarness()
	h.site.set(testHomeURL, "<html><body>Your session expired. Please log in again.</body></html>")

	_, err := h.run(t, validInput())

	var expired *SessionExpiredError
	require.True(t, errors.As(err, &expired))
	assert.Equal(t, CauseSessionExpired, CauseOf(err))
	_, shot := h.store.get(KeyHomeBlocked)
	assert.False(t, shot)
	require.Len(t, h.dispatcher.calls, 1)
}

func TestRunUnreadableHomePageFailsClosed(t *testing.T) {
	h := newHarness()
	h.session.home.htmlErr = errors.New("execution context was destroyed")

	_, err := h.run(t, validInput())

	var blocking *BlockingDetectedError
	require.True(t, errors.As(err, &blocking))
	assert.Error(t, blocking.Err)
	require.Len(t, h.dispatcher.calls, 1)
}

func TestRunFallbackDirectNavigation(t *testing.T) {
	h := newHarness()
	h.trigger.hidden = true

	result, err := h.run(t, validInput())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Cookies, 4)

	acq := h.acquisition(t)
	assert.Equal(t, AcquiredDirect, acq.Kind)
	assert.Equal(t, testFallbackURL, acq.URL)
	assert.ErrorIs(t, acq.Fallback, ErrTriggerNotVisible)
	assert.Equal(t, States, h.recorder.States())
}

func TestRunBlockedOnToolPage(t *testing.T) {
	h := newHarness()
	h.site.set(testToolURL, `<html><body><div class="g-recaptcha"></div></body></html>`)

	_, err := h.run(t, validInput())

	var blocking *BlockingDetectedError
	require.True(t, errors.As(err, &blocking))
	assert.Equal(t, "tool", blocking.Label)
	assert.Equal(t, []string{"recaptcha"}, blocking.Categories)

	_, ok := h.store.get(KeyToolBlocked)
	assert.True(t, ok)
	assert.NotContains(t, h.recorder.States(), StateToolChecked)
}

func TestRunAcquisitionFailure(t *testing.T) {
	h := newHarness()
	h.trigger.hidden = true
	h.site.fail(testFallbackURL, errNavigation)

	_, err := h.run(t, validInput())

	var acqErr *AcquisitionFailureError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, CauseAcquisition, CauseOf(err))

	_, ok := h.store.get(KeyAcquisitionFailed)
	assert.True(t, ok)
	assert.Equal(t, []State{StateInit, StateCookiesInjected, StateHomeLoaded, StateHomeChecked, StateDispatched},
		h.recorder.States())
	require.Len(t, h.dispatcher.calls, 1)
	assert.False(t, h.dispatcher.calls[0].result.Success)
}

func TestRunMissingOneCookie(t *testing.T) {
	h := newHarness()
	h.session.jar = requiredJar()[:3]

	result, err := h.run(t, validInput())

	var extractErr *CookieExtractionError
	require.True(t, errors.As(err, &extractErr))
	assert.Equal(t, []string{"session.sig"}, extractErr.Missing)
	assert.Equal(t, CauseCookieExtraction, CauseOf(err))

	require.Len(t, h.dispatcher.calls, 1)
	sent := h.dispatcher.calls[0].result
	assert.False(t, sent.Success)
	assert.Contains(t, sent.Error, "session.sig")
	assert.NotContains(t, sent.Error, "_cl")
	assert.Nil(t, result.Cookies)

	debug, ok := h.store.get(KeyAllCookies)
	require.True(t, ok)
	assert.Equal(t, "application/json", debug.contentType)
	var jar []models.SessionCookie
	require.NoError(t, json.Unmarshal(debug.data, &jar))
	assert.Len(t, jar, 3)

	_, fresh := h.store.get(KeyFreshCookies)
	assert.False(t, fresh)
	assert.Contains(t, h.recorder.States(), StateHomeReloaded)
	assert.NotContains(t, h.recorder.States(), StateCookiesValidated)
}

func TestRunRejectsEmptyCookiesBeforeLaunch(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, Input{Endpoint: testEndpoint})

	var inputErr *InputValidationError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, "sessionCookies", inputErr.Field)
	assert.Equal(t, 0, h.launcher.launches)

	require.Len(t, h.dispatcher.calls, 1, "failure is still reported to a valid endpoint")
	assert.False(t, h.dispatcher.calls[0].result.Success)
}

func TestRunRejectsMissingEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "not a url", "ftp://example.com/hook", "/relative"} {
		t.Run(endpoint, func(t *testing.T) {
			h := newHarness()

			_, err := h.run(t, Input{Cookies: staleCookies(), Endpoint: endpoint})

			var inputErr *InputValidationError
			require.True(t, errors.As(err, &inputErr))
			assert.Equal(t, "notificationEndpoint", inputErr.Field)
			assert.Equal(t, 0, h.launcher.launches)
			assert.Empty(t, h.dispatcher.calls)
		})
	}
}

func TestRunLaunchFailure(t *testing.T) {
	h := newHarness()
	h.launcher.err = errors.New("chrome not found")

	_, err := h.run(t, validInput())

	assert.Equal(t, CauseBrowser, CauseOf(err))
	require.Len(t, h.dispatcher.calls, 1)
	assert.Equal(t, 0, h.session.closeCount())
}

func TestRunHomeNavigationFailure(t *testing.T) {
	h := newHarness()
	h.site.fail(testHomeURL, errNavigation)

	_, err := h.run(t, validInput())

	assert.ErrorIs(t, err, errNavigation)
	assert.Equal(t, CauseBrowser, CauseOf(err))
	assert.Equal(t, 1, h.session.closeCount())
	require.Len(t, h.dispatcher.calls, 1)
}

func TestRunDeliveryFailureFailsSuccessfulRun(t *testing.T) {
	h := newHarness()
	h.dispatcher.err = &DeliveryError{StatusCode: 500, Body: "boom"}

	result, err := h.run(t, validInput())

	var delivery *DeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.Equal(t, 500, delivery.StatusCode)
	assert.False(t, result.Success)
	assert.Equal(t, string(CauseDelivery), result.Cause)

	require.Len(t, h.dispatcher.calls, 1, "delivery is never retried")
	_, fresh := h.store.get(KeyFreshCookies)
	assert.False(t, fresh)
}

func TestRunDeliveryFailureOnFailurePathKeepsOriginalError(t *testing.T) {
	h := newHarness()
	h.site.set(testHomeURL, "<body>Checking your browser</body>")
	h.dispatcher.err = &DeliveryError{StatusCode: 502}

	_, err := h.run(t, validInput())

	assert.Equal(t, CauseBlockingDetected, CauseOf(err))
	require.Len(t, h.dispatcher.calls, 1)

	var sent []NotificationSent
	for _, e := range h.recorder.Events() {
		if n, ok := e.(NotificationSent); ok {
			sent = append(sent, n)
		}
	}
	require.Len(t, sent, 1)
	assert.Error(t, sent[0].Err)
}

func TestRunDiagnosticFailureDoesNotMaskResult(t *testing.T) {
	h := newHarness()
	h.store.err = errors.New("redis: connection refused")
	h.site.set(testHomeURL, "<body>captcha</body>")

	_, err := h.run(t, validInput())

	assert.Equal(t, CauseBlockingDetected, CauseOf(err))

	var failed int
	for _, e := range h.recorder.Events() {
		if d, ok := e.(DiagnosticStored); ok && d.Err != nil {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRunCanceledContextStillDispatches(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orchestrator().Run(ctx, validInput(), h.recorder)

	require.Error(t, err)
	require.Len(t, h.dispatcher.calls, 1)
	assert.False(t, h.dispatcher.calls[0].result.Success)
	assert.Equal(t, 1, h.session.closeCount())
}

func TestRunCanceledDuringAcquisitionIsCanceled(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.trigger.onClick = cancel

	_, err := h.orchestrator().Run(ctx, validInput(), h.recorder)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CauseCanceled, CauseOf(err))
	var acqErr *AcquisitionFailureError
	assert.False(t, errors.As(err, &acqErr))
	assert.Empty(t, h.session.openedPages(), "no direct navigation after cancel")
	assert.Equal(t, AcquisitionFailed, h.acquisition(t).Kind)
	require.Len(t, h.dispatcher.calls, 1)
	assert.False(t, h.dispatcher.calls[0].result.Success)
}

func TestRunFinishedIsLastEvent(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, validInput())
	require.NoError(t, err)

	events := h.recorder.Events()
	finished, ok := events[len(events)-1].(RunFinished)
	require.True(t, ok)
	assert.True(t, finished.Success)
	assert.Equal(t, CauseNone, finished.Cause)
}

func TestRunPayloadShapeIsStable(t *testing.T) {
	shape := func(clock time.Time, value string) ([]string, []string, int) {
		h := newHarness()
		for i := range h.session.jar {
			h.session.jar[i].Value = value + h.session.jar[i].Name
		}

		_, err := h.orchestrator(WithClock(func() time.Time { return clock })).
			Run(context.Background(), validInput(), nil)
		require.NoError(t, err)

		body, err := json.Marshal(h.dispatcher.calls[0].result.Payload())
		require.NoError(t, err)

		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(body, &decoded))
		var details map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(decoded["cookieDetails"], &details))
		var cookies []json.RawMessage
		require.NoError(t, json.Unmarshal(decoded["cookies"], &cookies))

		return sortedKeys(decoded), sortedKeys(details), len(cookies)
	}

	keys1, details1, count1 := shape(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), "a")
	keys2, details2, count2 := shape(time.Date(2025, 1, 3, 3, 4, 5, 0, time.UTC), "b")

	assert.Equal(t, keys1, keys2)
	assert.Equal(t, details1, details2)
	assert.Equal(t, 4, count1)
	assert.Equal(t, count1, count2)
	assert.Equal(t, []string{"cookieDetails", "cookies", "success", "timestamp"}, keys1)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
