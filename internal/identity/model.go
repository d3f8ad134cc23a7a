package identity

import (
	"errors"
	"time"
)

// Supported client operating systems.
const (
	OSAndroid = "android"
	OSIOS     = "iOS"
)

var (
	// ErrNotFound indicates the identity does not exist.
	ErrNotFound = errors.New("user not found")
)

// State is the derived lifecycle state of an identity.
type State string

const (
	StateRegistered    State = "registered"
	StatePhoneVerified State = "phone_verified"
	StateOnboarded     State = "onboarded"
	StateDeactivated   State = "deactivated"
	StateBlacklisted   State = "blacklisted"
)

// User is a registered client installation.
type User struct {
	ID            string
	DeviceID      string
	DeviceModel   string
	TimeZone      string
	OS            string
	AppVersion    string
	PushToken     string
	Phone         string
	WalletAddress string
	PhoneVerified bool
	Onboarded     bool
	Deactivated   bool
	Blacklisted   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// State reports the most restrictive state that applies to the user.
func (u User) State() State {
	switch {
	case u.Blacklisted:
		return StateBlacklisted
	case u.Deactivated:
		return StateDeactivated
	case u.Onboarded:
		return StateOnboarded
	case u.PhoneVerified:
		return StatePhoneVerified
	default:
		return StateRegistered
	}
}

// Registration carries the client-supplied registration fields.
type Registration struct {
	UserID      string
	OS          string
	DeviceModel string
	DeviceID    string
	TimeZone    string
	AppVersion  string
	PushToken   string
}
