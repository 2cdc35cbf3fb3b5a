package refresh

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// LogSink writes events as logrus entries
type LogSink struct {
	entry *logrus.Entry
}

// NewLogSink creates a sink logging through entry
func NewLogSink(entry *logrus.Entry) *LogSink {
	return &LogSink{entry: entry}
}

// Emit logs e at a level matching its severity
func (s *LogSink) Emit(e Event) {
	switch ev := e.(type) {
	case StateEntered:
		s.entry.WithField("state", ev.State).Info("State entered")

	case CookiesInjected:
		fields := logrus.Fields{"count": ev.Count}
		for domain, names := range ev.ByDomain {
			fields["domain:"+domain] = strings.Join(names, ",")
		}
		s.entry.WithFields(fields).Info("Input cookies injected")

	case BlockingObserved:
		s.entry.WithFields(logrus.Fields{
			"page":     ev.Label,
			"category": ev.Category,
		}).Warn("Blocking signature detected")

	case PageChecked:
		entry := s.entry.WithField("page", ev.Label)
		switch {
		case ev.Err != nil:
			entry.WithError(ev.Err).Warn("Page could not be inspected")
		case !ev.Blocked:
			entry.Info("No blocking detected")
		}

	case AcquisitionAttempted:
		entry := s.entry.WithFields(logrus.Fields{
			"kind": ev.Kind,
			"url":  ev.URL,
		})
		if ev.Fallback != nil {
			entry = entry.WithField("fallback_reason", ev.Fallback.Error())
		}
		if ev.Kind == AcquisitionFailed {
			entry.WithField("reason", ev.Reason).Error("Tool page acquisition failed")
			return
		}
		entry.Info("Tool page acquired")

	case CookieMatched:
		s.entry.WithFields(logrus.Fields{
			"cookie": ev.Name,
			"domain": ev.Domain,
		}).Debug("Required cookie found")

	case CookiesMissing:
		s.entry.WithFields(logrus.Fields{
			"missing":  strings.Join(ev.Names, ","),
			"jar_size": ev.JarSize,
		}).Error("Required cookies missing")

	case DiagnosticStored:
		entry := s.entry.WithField("key", ev.Key)
		if ev.Err != nil {
			entry.WithError(ev.Err).Warn("Failed to store diagnostic")
			return
		}
		entry.Info("Diagnostic stored")

	case NotificationSent:
		entry := s.entry.WithField("success_payload", ev.Success)
		if ev.Err != nil {
			entry.WithError(ev.Err).Error("Webhook delivery failed")
			return
		}
		entry.Info("Webhook delivered")

	case RunFinished:
		entry := s.entry.WithFields(logrus.Fields{
			"success":     ev.Success,
			"duration_ms": ev.Duration.Milliseconds(),
		})
		if !ev.Success {
			entry.WithFields(logrus.Fields{
				"cause": ev.Cause,
				"error": errString(ev.Err),
			}).Error("Cookie refresh failed")
			return
		}
		entry.Info("Cookie refresh completed")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
