package domain

// StatusCategory is the coarse connection health shown permanently in the UI.
type StatusCategory string

const (
	StatusConnecting   StatusCategory = "connecting"
	StatusConnected    StatusCategory = "connected"
	StatusDisconnected StatusCategory = "disconnected"
)

// Severity of a transient notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Status is one state-transition report: a category for the indicator plus a
// human-readable line.
type Status struct {
	Category StatusCategory `json:"category"`
	Message  string         `json:"message"`
}

// Notification is a transient toast-style message.
type Notification struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}
