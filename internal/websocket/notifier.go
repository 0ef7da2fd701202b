package websocket

import (
	"encoding/json"
	"log/slog"

	"lotcli/internal/extract"
)

// Notifier publishes extraction lifecycle events through the hub. It
// implements extract.Notifier; Broadcast never blocks, so the extraction
// loop is never held up by slow clients.
type Notifier struct {
	hub    *Hub
	logger *slog.Logger
}

// NewNotifier returns a notifier over hub.
func NewNotifier(hub *Hub, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		hub:    hub,
		logger: logger.With(slog.String("component", "websocket.notifier")),
	}
}

func (n *Notifier) publish(eventType string, data any) {
	b, err := json.Marshal(NewEnvelope(eventType, data))
	if err != nil {
		n.logger.Error("could not marshal event",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
		return
	}
	n.hub.Broadcast(b)
}

// Progress reports the position currently being processed.
func (n *Notifier) Progress(status string, current, total int) {
	n.publish(TypeExtractionProgress, map[string]any{
		"status":  status,
		"current": current,
		"total":   total,
	})
}

// Completed reports a finished run with its summary counts.
func (n *Notifier) Completed(s extract.Summary) {
	n.publish(TypeExtractionComplete, s)
}

// Stopped reports a user-requested stop with the final progress ratio.
func (n *Notifier) Stopped(progress string, hasData bool) {
	n.publish(TypeExtractionStopped, map[string]any{
		"progress": progress,
		"has_data": hasData,
	})
}

// RunError reports a run-level failure.
func (n *Notifier) RunError(message, progress string) {
	n.publish(TypeExtractionError, map[string]any{
		"message":  message,
		"progress": progress,
	})
}

// ExportComplete reports a served export download.
func (n *Notifier) ExportComplete(format string) {
	n.publish(TypeExportComplete, map[string]any{
		"format": format,
	})
}
