package liveserver

import "time"

// Message is one websocket frame sent to dashboard clients
type Message struct {
	Type string      `json:"type"`
	// Key groups status messages for replay. It is the instrument id and is not sent.
	Key  string      `json:"-"`
	Data interface{} `json:"data"`
}

// Message types
const (
	// TypeStatus carries an instrument status report after a processed signal
	TypeStatus = "status"
	// TypeSignalError carries a rejected or failed signal
	TypeSignalError = "signal_error"
	// TypeMaintenance carries the account report after a red button
	TypeMaintenance = "maintenance"
)

// SignalError describes a signal that did not complete
type SignalError struct {
	InstID  string    `json:"inst_id"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// NewMessage creates a Message
func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Data: data}
}

// NewStatusMessage wraps the status report of instID
func NewStatusMessage(instID string, report interface{}) Message {
	return Message{Type: TypeStatus, Key: instID, Data: report}
}

func NewSignalErrorMessage(e SignalError) Message {
	return NewMessage(TypeSignalError, e)
}

func NewMaintenanceMessage(report interface{}) Message {
	return NewMessage(TypeMaintenance, report)
}
