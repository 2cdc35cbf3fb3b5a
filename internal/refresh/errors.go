package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Cause classifies why a run failed
type Cause string

const (
	CauseNone             Cause = ""
	CauseInputValidation  Cause = "input_validation"
	CauseBlockingDetected Cause = "blocking_detected"
	CauseSessionExpired   Cause = "session_expired"
	CauseAcquisition      Cause = "acquisition_failure"
	CauseCookieExtraction Cause = "cookie_extraction"
	CauseDelivery         Cause = "delivery"
	CauseBrowser          Cause = "browser"
	CauseCanceled         Cause = "canceled"
	CauseTimeout          Cause = "timeout"
	CauseInternal         Cause = "internal"
)

// ErrRaceTimeout is returned when neither a popup nor a same-tab navigation
// produced the tool page in time
var ErrRaceTimeout = errors.New("timed out waiting for popup or navigation")

// ErrTriggerNotVisible is returned when the trigger control never became visible
var ErrTriggerNotVisible = errors.New("trigger control not visible")

// InputValidationError reports a missing or malformed input parameter
type InputValidationError struct {
	Field  string
	Reason string
}

func (e *InputValidationError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

// BlockingDetectedError reports a bot challenge on a checkpoint page, or a
// page that could not be read at all
type BlockingDetectedError struct {
	Label      string
	Categories []string
	Err        error
}

func (e *BlockingDetectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not inspect %s page for blocking: %v", e.Label, e.Err)
	}
	return fmt.Sprintf("CAPTCHA challenge detected on %s page (%s) - cannot proceed automatically",
		e.Label, strings.Join(e.Categories, ", "))
}

func (e *BlockingDetectedError) Unwrap() error { return e.Err }

// SessionExpiredError reports that the portal rejected the input cookies
type SessionExpiredError struct {
	Label string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session expired on %s page - input cookies must be extracted again manually", e.Label)
}

// AcquisitionFailureError reports that the tool page could not be reached
type AcquisitionFailureError struct {
	Reason string
}

func (e *AcquisitionFailureError) Error() string {
	return "could not access tool page: " + e.Reason
}

// MissingCookiesError lists required cookies absent from the jar
type MissingCookiesError struct {
	Names []string
}

func (e *MissingCookiesError) Error() string {
	return "missing cookies: " + strings.Join(e.Names, ", ")
}

// CookieExtractionError reports an incomplete cookie set after a full run
type CookieExtractionError struct {
	Missing []string
	JarSize int
}

func (e *CookieExtractionError) Error() string {
	return "missing cookies: " + strings.Join(e.Missing, ", ")
}

// DeliveryError reports a failed notification delivery
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("webhook failed with status %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// BrowserError reports a failed browser operation outside the checkpoints,
// such as launching or a top-level navigation
type BrowserError struct {
	Op  string
	Err error
}

func (e *BrowserError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BrowserError) Unwrap() error { return e.Err }

// CauseOf maps an error to its cause
func CauseOf(err error) Cause {
	if err == nil {
		return CauseNone
	}

	var (
		inputErr    *InputValidationError
		blockingErr *BlockingDetectedError
		expiredErr  *SessionExpiredError
		acquireErr  *AcquisitionFailureError
		extractErr  *CookieExtractionError
		missingErr  *MissingCookiesError
		deliveryErr *DeliveryError
		browserErr  *BrowserError
	)

	switch {
	case errors.As(err, &inputErr):
		return CauseInputValidation
	case errors.As(err, &blockingErr):
		return CauseBlockingDetected
	case errors.As(err, &expiredErr):
		return CauseSessionExpired
	case errors.As(err, &acquireErr):
		return CauseAcquisition
	case errors.As(err, &extractErr), errors.As(err, &missingErr):
		return CauseCookieExtraction
	case errors.As(err, &deliveryErr):
		return CauseDelivery
	case errors.Is(err, context.Canceled):
		return CauseCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.As(err, &browserErr):
		return CauseBrowser
	default:
		return CauseInternal
	}
}
