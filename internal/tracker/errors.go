package tracker

import (
	"errors"
	"fmt"
)

// Class is the top level of the error taxonomy and decides retry behavior.
type Class string

// Error classes.
const (
	ClassConfiguration Class = "configuration"
	ClassTransient     Class = "transient"
	ClassNotification  Class = "notification"
)

// Kind narrows an error class.
type Kind string

// Configuration kinds. None of these are retried.
const (
	KindNotConfigured     Kind = "not_configured"
	KindSiteDisabled      Kind = "site_disabled"
	KindInvalidURL        Kind = "invalid_url"
	KindSelectorDrift     Kind = "selector_drift"
	KindAuth              Kind = "auth"
	KindMalformedResponse Kind = "malformed_response"
	KindRobotsDisallowed  Kind = "robots_disallowed"
	KindHTTPStatus        Kind = "http_status"
)

// Transient kinds. These are retried up to the attempt budget.
const (
	KindTimeout     Kind = "timeout"
	KindNetwork     Kind = "network"
	KindThrottled   Kind = "throttled"
	KindServerError Kind = "server_error"
)

// KindDelivery is the only notification kind.
const KindDelivery Kind = "delivery"

// Sentinels matched through errors.Is against any *Error of that class.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient error")
	ErrNotification  = errors.New("notification error")
)

// Error is the typed failure returned by strategies, the registry and notifiers.
type Error struct {
	Class Class
	Kind  Kind
	URL   string
	// Snapshot is the archived page location for selector drift, if any.
	Snapshot string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error (%s)", e.Class, e.Kind)
	if e.URL != "" {
		msg += " for " + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the class sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Class == ClassConfiguration
	case ErrTransient:
		return e.Class == ClassTransient
	case ErrNotification:
		return e.Class == ClassNotification
	}
	return false
}

// ConfigurationError builds a non-retryable error.
func ConfigurationError(kind Kind, url string, err error) *Error {
	return &Error{Class: ClassConfiguration, Kind: kind, URL: url, Err: err}
}

// TransientError builds a retryable error.
func TransientError(kind Kind, url string, err error) *Error {
	return &Error{Class: ClassTransient, Kind: kind, URL: url, Err: err}
}

// NotificationError wraps a failed alert delivery.
func NotificationError(url string, err error) *Error {
	return &Error{Class: ClassNotification, Kind: KindDelivery, URL: url, Err: err}
}

// AsError extracts the typed error from a chain.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// KindOf returns the kind of a typed error or "" for anything else.
func KindOf(err error) Kind {
	if typed, ok := AsError(err); ok {
		return typed.Kind
	}
	return ""
}
