package core

// SessionID identifies one signaling connection for its whole lifetime.
type SessionID string
