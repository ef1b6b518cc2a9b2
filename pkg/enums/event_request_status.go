package enums

import "fmt"

// EventRequestStatus tracks a customer's event request.
type EventRequestStatus string

const (
	EventRequestStatusPending   EventRequestStatus = "pending"
	EventRequestStatusMatching  EventRequestStatus = "matching"
	EventRequestStatusMatched   EventRequestStatus = "matched"
	EventRequestStatusBooked    EventRequestStatus = "booked"
	EventRequestStatusCancelled EventRequestStatus = "cancelled"
)

var validEventRequestStatuses = []EventRequestStatus{
	EventRequestStatusPending,
	EventRequestStatusMatching,
	EventRequestStatusMatched,
	EventRequestStatusBooked,
	EventRequestStatusCancelled,
}

// String implements fmt.Stringer.
func (s EventRequestStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s EventRequestStatus) IsValid() bool {
	for _, candidate := range validEventRequestStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Matchable reports whether the request may still be (re)matched.
func (s EventRequestStatus) Matchable() bool {
	return s == EventRequestStatusPending || s == EventRequestStatusMatching || s == EventRequestStatusMatched
}

// ParseEventRequestStatus converts raw input into an EventRequestStatus.
func ParseEventRequestStatus(value string) (EventRequestStatus, error) {
	for _, candidate := range validEventRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event request status %q", value)
}
