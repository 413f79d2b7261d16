package push

import (
	"fmt"
	"net/http"
)

// OutcomeKind classifies a single delivery attempt.
type OutcomeKind int

const (
	KindDelivered OutcomeKind = iota
	// KindGone means the endpoint is permanently invalid and should be removed.
	KindGone
	// KindTransient covers every other failure, timeouts included.
	KindTransient
)

func (k OutcomeKind) String() string {
	switch k {
	case KindDelivered:
		return "delivered"
	case KindGone:
		return "gone"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is the result of one delivery. Err is set only for KindTransient.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Err        error
}

func Delivered(status int) Outcome { return Outcome{Kind: KindDelivered, StatusCode: status} }

func Gone(status int) Outcome { return Outcome{Kind: KindGone, StatusCode: status} }

func Transient(status int, err error) Outcome {
	return Outcome{Kind: KindTransient, StatusCode: status, Err: err}
}

// ClassifyStatus maps a push service response code to an Outcome.
func ClassifyStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Delivered(status)
	case status == http.StatusNotFound, status == http.StatusGone:
		return Gone(status)
	default:
		return Transient(status, fmt.Errorf("push service returned %d", status))
	}
}
