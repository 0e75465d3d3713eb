// Package actionlock keeps at most one mutation in flight per book.
package actionlock

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"peerreads/pkg/apperrors"
)

type Action string

const (
	ActionRequest Action = "request"
	ActionApprove Action = "approve"
	ActionDecline Action = "decline"
	ActionReturn  Action = "return"
	ActionExtend  Action = "extend"
	ActionDelete  Action = "delete"
	ActionEdit    Action = "edit"
)

// Held describes an outstanding action.
type Held struct {
	BookID int64     `json:"bookId"`
	Action Action    `json:"action"`
	Since  time.Time `json:"since"`
}

type Registry struct {
	held map[int64]Held
	mu   sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		held: make(map[int64]Held),
	}
}

// Acquire reserves bookID for action. The returned release func must be called
// once the request has finished, successfully or not.
func (r *Registry) Acquire(bookID int64, action Action) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, busy := r.held[bookID]; busy {
		return nil, fmt.Errorf("%s on book %d while %s is outstanding: %w",
			action, bookID, h.Action, apperrors.ErrActionInProgress)
	}
	r.held[bookID] = Held{BookID: bookID, Action: action, Since: time.Now()}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.held, bookID)
		})
	}, nil
}

// GetAll returns a snapshot of the outstanding actions ordered by book id.
func (r *Registry) GetAll() []Held {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Held, 0, len(r.held))
	for _, h := range r.held {
		result = append(result, h)
	}
	slices.SortFunc(result, func(a, b Held) int { return cmp.Compare(a.BookID, b.BookID) })
	return result
}
