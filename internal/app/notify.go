package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/domain"
)

// Notifier presents transient status messages to the user. Fire-and-forget:
// implementations must never block or fail.
type Notifier interface {
	Notify(sev domain.Severity, msg string)
}

type busNotifier struct {
	bus *EventBus
}

// NewNotifier returns a Notifier that logs every message and forwards it to
// the event bus for the UI.
func NewNotifier(bus *EventBus) Notifier {
	return &busNotifier{bus: bus}
}

func (n *busNotifier) Notify(sev domain.Severity, msg string) {
	evt := log.Info()
	if sev == domain.SeverityError {
		evt = log.Error()
	}
	evt.Str("module", "app.notify").Str("severity", string(sev)).Msg(msg)

	n.bus.Publish(Event{Notification: &domain.Notification{Severity: sev, Message: msg}})
}
