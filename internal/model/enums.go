package model

// SessionStatus is the finite state the Session Supervisor drives a tenant's
// WhatsApp connection through.
type SessionStatus string

const (
	StatusConnected    SessionStatus = "CONNECTED"
	StatusDisconnected SessionStatus = "DISCONNECTED"
	StatusQR           SessionStatus = "QR"
	StatusLoggedOut    SessionStatus = "LOGGED_OUT"
	StatusError        SessionStatus = "ERROR"
)
