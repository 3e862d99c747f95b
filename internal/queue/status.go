package queue

import "fmt"

// Status is the lifecycle state of an appointment. Pending is stored as NULL.
type Status string

const (
	StatusPending    Status = ""
	StatusInProgress Status = "in"
	StatusCompleted  Status = "out"
	StatusCancelled  Status = "cancel"
)

// ParseStatus maps a wire value to a Status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return Status(raw), nil
	}
	return "", fmt.Errorf("queue: unknown status %q", raw)
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string {
	if s == StatusPending {
		return "pending"
	}
	return string(s)
}

// PaymentMode is how an appointment was settled.
type PaymentMode string

const (
	PaymentCash   PaymentMode = "Cash"
	PaymentOnline PaymentMode = "Online"
)

func (m PaymentMode) valid() bool {
	return m == PaymentCash || m == PaymentOnline
}
