// Package domain contains entity without logic, just meta-data
package domain

// Role is what a session currently does in the broadcast.
type Role string

const (
	RoleNone      Role = "none"
	RolePresenter Role = "presenter"
	RoleViewer    Role = "viewer"
	RoleListener  Role = "listener"
)

// PresenterState is the lifecycle of the single presenter slot.
type PresenterState int

const (
	PresenterIdle PresenterState = iota
	PresenterNegotiating
	PresenterActive
)

func (s PresenterState) String() string {
	switch s {
	case PresenterNegotiating:
		return "negotiating"
	case PresenterActive:
		return "active"
	default:
		return "idle"
	}
}
