package observability

import "time"

// EventEnvelope is the shape of relay lifecycle events published to the
// message broker for downstream consumers.
type EventEnvelope struct {
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	SessionID  string `json:"session_id"`
	RemoteIP   string `json:"remote_ip,omitempty"`
}

// SessionEvent builds a lifecycle envelope for one relay session.
func SessionEvent(eventType, sessionID, remoteIP string) EventEnvelope {
	return EventEnvelope{
		EventType:  eventType,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:  sessionID,
		RemoteIP:   remoteIP,
	}
}

// BuildHeaders carries request correlation onto published messages; empty
// values are omitted.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
