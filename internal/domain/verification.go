package domain

import (
	"fmt"
	"time"
)

// Channel identifies how a verification is carried out. The only values are
// ChannelEmail, ChannelSMS and ChannelIdentityDocument; the unexported field
// keeps other packages from minting new ones.
type Channel struct {
	name string
}

var (
	ChannelEmail            = Channel{name: "email"}
	ChannelSMS              = Channel{name: "sms"}
	ChannelIdentityDocument = Channel{name: "identity_document"}
)

// Channels lists every channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelIdentityDocument}
}

// ParseChannel converts an external string into a Channel.
func ParseChannel(s string) (Channel, error) {
	for _, c := range Channels() {
		if c.name == s {
			return c, nil
		}
	}
	return Channel{}, fmt.Errorf("unknown verification channel %q", s)
}

func (c Channel) String() string { return c.name }

// IsZero reports whether c is the zero value rather than a real channel.
func (c Channel) IsZero() bool { return c.name == "" }

// Category returns the verification category the channel belongs to.
func (c Channel) Category() Category {
	if c == ChannelIdentityDocument {
		return CategoryIdentity
	}
	return CategoryContact
}

// UsesCode reports whether verification on this channel is done with a one-time code.
func (c Channel) UsesCode() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// MarshalText implements encoding.TextMarshaler.
func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(b []byte) error {
	parsed, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Category groups channels: contact channels confirm reachability, identity
// channels confirm who the applicant is.
type Category struct {
	name string
}

var (
	CategoryContact  = Category{name: "contact"}
	CategoryIdentity = Category{name: "identity"}
)

// ParseCategory converts an external string into a Category.
func ParseCategory(s string) (Category, error) {
	switch s {
	case CategoryContact.name:
		return CategoryContact, nil
	case CategoryIdentity.name:
		return CategoryIdentity, nil
	}
	return Category{}, fmt.Errorf("unknown verification category %q", s)
}

func (c Category) String() string { return c.name }

// IsZero reports whether c is the zero value.
func (c Category) IsZero() bool { return c.name == "" }

// VerificationStatus is the lifecycle state of one verification record.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationExpired  VerificationStatus = "expired"
	VerificationFailed   VerificationStatus = "failed"
)

// ParseVerificationStatus validates a status string.
func ParseVerificationStatus(s string) (VerificationStatus, error) {
	switch status := VerificationStatus(s); status {
	case VerificationPending, VerificationVerified, VerificationExpired, VerificationFailed:
		return status, nil
	}
	return "", fmt.Errorf("unknown verification status %q", s)
}

// IsTerminal reports whether no automatic transition can leave this status.
func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationVerified || s == VerificationExpired || s == VerificationFailed
}

// DefaultMaxAttempts is the number of code checks allowed per verification.
const DefaultMaxAttempts = 3

// Verification is one channel's attempt series for an application.
type Verification struct {
	ID            int64
	ApplicationID int64
	Category      Category
	Channel       Channel
	Code          *string
	Status        VerificationStatus
	Attempts      int
	MaxAttempts   int
	ExpiresAt     time.Time
	VerifiedAt    *time.Time
	CreatedAt     time.Time
}

// CodeCheck is the outcome of evaluating a submitted code against a pending verification.
type CodeCheck int

const (
	CheckVerified CodeCheck = iota
	CheckExpired
	CheckExhausted
	CheckMismatch
)

// CheckCode applies the code-check rules to a pending verification and mutates
// it accordingly. Expiry is checked before attempt exhaustion, and neither of
// those paths touches Attempts. Otherwise Attempts is incremented before the
// comparison, including on the successful attempt.
func (v *Verification) CheckCode(matches func(stored string) bool, now time.Time) CodeCheck {
	if now.After(v.ExpiresAt) {
		v.Status = VerificationExpired
		return CheckExpired
	}
	if v.Attempts >= v.MaxAttempts {
		v.Status = VerificationFailed
		return CheckExhausted
	}
	v.Attempts++
	if v.Code != nil && matches(*v.Code) {
		v.Status = VerificationVerified
		v.VerifiedAt = &now
		return CheckVerified
	}
	return CheckMismatch
}

// Clone returns a deep copy.
func (v *Verification) Clone() *Verification {
	if v == nil {
		return nil
	}
	c := *v
	if v.Code != nil {
		code := *v.Code
		c.Code = &code
	}
	if v.VerifiedAt != nil {
		at := *v.VerifiedAt
		c.VerifiedAt = &at
	}
	return &c
}

// Notification is the payload handed to the notifier when a code is issued.
type Notification struct {
	RequestID string    `json:"request_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}
