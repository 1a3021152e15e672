package queue

import (
	"time"

	"github.com/google/uuid"
)

// Request is one pending host action. Position in the queue is its only
// ordering key; ID exists for log correlation.
type Request struct {
	ID         string    `json:"id"`
	Alias      string    `json:"alias"`
	Command    string    `json:"command"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewRequest stamps a request with a fresh ID and the current time.
func NewRequest(alias, command string) Request {
	return Request{
		ID:         uuid.NewString(),
		Alias:      alias,
		Command:    command,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Overflow decides which request is dropped when a bounded queue is full.
type Overflow int

const (
	// DropNewest rejects the incoming request.
	DropNewest Overflow = iota
	// DropOldest evicts the head to make room.
	DropOldest
)

// ParseOverflow maps a config policy name; unknown names mean DropNewest.
func ParseOverflow(s string) Overflow {
	if s == "drop-oldest" {
		return DropOldest
	}
	return DropNewest
}

func (o Overflow) String() string {
	if o == DropOldest {
		return "drop-oldest"
	}
	return "drop-newest"
}
