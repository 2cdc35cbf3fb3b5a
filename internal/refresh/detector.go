package refresh

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nexconsult/cookie-refresher/internal/models"
)

var (
	captchaPhrases        = []string{"captcha", "verify you are human", "verify you're human"}
	edgeChallengePhrases  = []string{"cloudflare", "checking your browser", "challenge"}
	accessDeniedPhrases   = []string{"access denied", "403 forbidden", "not authorized"}
	sessionExpiredPhrases = []string{"session expired", "please log in", "login required"}
	rateLimitPhrases      = []string{"too many requests", "rate limit"}
	recaptchaSelectors    = []string{".g-recaptcha", "[data-sitekey]"}
)

// Classify inspects page markup for blocking signatures. Categories are
// independent and classification never fails: markup that cannot be parsed
// is matched as plain text.
func Classify(html string) models.BlockingStatus {
	markup := strings.ToLower(html)
	text := markup
	hasWidget := false

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		text = strings.ToLower(doc.Find("body").Text())
		for _, sel := range recaptchaSelectors {
			if doc.Find(sel).Length() > 0 {
				hasWidget = true
				break
			}
		}
	}

	return models.BlockingStatus{
		HasCaptcha:        containsAny(text, captchaPhrases),
		HasRecaptcha:      hasWidget || strings.Contains(markup, "recaptcha"),
		HasEdgeChallenge:  containsAny(text, edgeChallengePhrases),
		HasAccessDenied:   containsAny(text, accessDeniedPhrases),
		HasSessionExpired: containsAny(text, sessionExpiredPhrases),
		HasRateLimit:      containsAny(text, rateLimitPhrases),
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Detector reads a page and classifies it
type Detector struct {
	sink EventSink
}

// NewDetector creates a detector reporting to sink
func NewDetector(sink EventSink) *Detector {
	if sink == nil {
		sink = discard{}
	}
	return &Detector{sink: sink}
}

// Detect classifies the current content of page. It only returns an error
// when the content cannot be read.
func (d *Detector) Detect(ctx context.Context, page Page, label string) (models.BlockingStatus, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		err = fmt.Errorf("failed to read %s page: %w", label, err)
		d.sink.Emit(PageChecked{Label: label, Err: err})
		return models.BlockingStatus{}, err
	}

	status := Classify(html)
	for _, category := range status.Categories() {
		d.sink.Emit(BlockingObserved{Label: label, Category: category})
	}
	d.sink.Emit(PageChecked{Label: label, Blocked: status.IsBlocked()})

	return status, nil
}
