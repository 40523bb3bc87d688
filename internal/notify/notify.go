package notify

import "log/slog"

// Severity controls how prominently a notification is surfaced to the user.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Notifier receives user-facing notifications from the pipeline. Implementations
// decide presentation; the pipeline only decides kind, message, and severity.
type Notifier interface {
	Notify(kind string, message string, severity Severity)
}

// SlogNotifier writes notifications to a structured logger.
type SlogNotifier struct {
	logger *slog.Logger
}

// NewSlogNotifier creates a SlogNotifier. A nil logger uses slog.Default.
func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogNotifier{logger: logger}
}

// Notify logs the notification at a level matching its severity.
func (n *SlogNotifier) Notify(kind string, message string, severity Severity) {
	switch severity {
	case SeverityHigh, SeverityCritical:
		n.logger.Error(message, "kind", kind, "severity", string(severity))
	case SeverityMedium:
		n.logger.Warn(message, "kind", kind, "severity", string(severity))
	default:
		n.logger.Info(message, "kind", kind, "severity", string(severity))
	}
}
