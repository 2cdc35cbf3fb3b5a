package models

import (
	"time"
)

// TimestampLayout matches JavaScript's Date.toISOString
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in UTC with millisecond precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// BlockingStatus holds one flag per known blocking category
type BlockingStatus struct {
	HasCaptcha        bool `json:"hasCaptcha"`
	HasRecaptcha      bool `json:"hasRecaptcha"`
	HasEdgeChallenge  bool `json:"hasEdgeChallenge"`
	HasAccessDenied   bool `json:"hasAccessDenied"`
	HasSessionExpired bool `json:"hasSessionExpired"`
	HasRateLimit      bool `json:"hasRateLimit"`
}

// IsBlocked reports whether any category was detected
func (s BlockingStatus) IsBlocked() bool {
	return s.HasCaptcha || s.HasRecaptcha || s.HasEdgeChallenge ||
		s.HasAccessDenied || s.HasSessionExpired || s.HasRateLimit
}

// IsChallenge reports whether the page presents a bot challenge
func (s BlockingStatus) IsChallenge() bool {
	return s.HasCaptcha || s.HasRecaptcha || s.HasEdgeChallenge
}

// Categories lists the detected categories in a stable order
func (s BlockingStatus) Categories() []string {
	var out []string
	if s.HasCaptcha {
		out = append(out, "captcha")
	}
	if s.HasRecaptcha {
		out = append(out, "recaptcha")
	}
	if s.HasEdgeChallenge {
		out = append(out, "edge_challenge")
	}
	if s.HasAccessDenied {
		out = append(out, "access_denied")
	}
	if s.HasSessionExpired {
		out = append(out, "session_expired")
	}
	if s.HasRateLimit {
		out = append(out, "rate_limit")
	}
	return out
}

// RefreshResult is the outcome of one refresh run. Build it with
// NewSuccessResult or NewFailureResult.
type RefreshResult struct {
	Success   bool
	Timestamp time.Time
	Cookies   []SessionCookie
	Error     string
	Cause     string
}

// NewSuccessResult builds a success result carrying the extracted cookies
func NewSuccessResult(ts time.Time, cookies []SessionCookie) RefreshResult {
	out := make([]SessionCookie, len(cookies))
	copy(out, cookies)
	return RefreshResult{Success: true, Timestamp: ts, Cookies: out}
}

// NewFailureResult builds a failure result; it never carries cookies
func NewFailureResult(ts time.Time, message, cause string) RefreshResult {
	if message == "" {
		message = "unknown error"
	}
	return RefreshResult{Success: false, Timestamp: ts, Error: message, Cause: cause}
}

// CookieDetail summarises one delivered cookie
type CookieDetail struct {
	Found   bool        `json:"found"`
	Domain  string      `json:"domain"`
	Expires interface{} `json:"expires"`
}

// WebhookPayload is the JSON body posted to the notification endpoint
type WebhookPayload struct {
	Success       bool                    `json:"success"`
	Timestamp     string                  `json:"timestamp"`
	Cookies       []SessionCookie         `json:"cookies"`
	CookieDetails map[string]CookieDetail `json:"cookieDetails,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// Payload converts the result to its wire format
func (r RefreshResult) Payload() WebhookPayload {
	payload := WebhookPayload{
		Success:   r.Success,
		Timestamp: FormatTimestamp(r.Timestamp),
	}

	if !r.Success {
		payload.Error = r.Error
		return payload
	}

	payload.Cookies = r.Cookies
	payload.CookieDetails = make(map[string]CookieDetail, len(r.Cookies))
	for _, c := range r.Cookies {
		var expires interface{} = "session"
		if !c.IsSession() {
			expires = c.Expires
		}
		payload.CookieDetails[c.Name] = CookieDetail{
			Found:   true,
			Domain:  c.Domain,
			Expires: expires,
		}
	}
	return payload
}
