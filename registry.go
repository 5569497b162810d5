package lowkiq

import (
	"sort"

	"github.com/ifnotnil/lowkiq/internal/signalpipe"
)

// Action is the work bound to a signal. It always runs on the controller's read
// loop, never in signal context.
type Action func() error

// Registry maps signal tokens to actions. It is filled while the controller is
// built and sealed before the read loop starts; after that it is only read, from
// a single goroutine, so it needs no locking.
type Registry struct {
	actions map[signalpipe.Token]Action
	sealed  bool
}

func NewRegistry() *Registry {
	return &Registry{actions: map[signalpipe.Token]Action{}}
}

// Register binds action to tok. Each token can be bound once.
func (r *Registry) Register(tok signalpipe.Token, action Action) error {
	switch {
	case r.sealed:
		return ErrRegistrySealed
	case action == nil:
		return ErrNilAction
	}

	if _, exists := r.actions[tok]; exists {
		return &DuplicateActionError{Token: tok}
	}
	r.actions[tok] = action

	return nil
}

// Seal forbids further registrations.
func (r *Registry) Seal() { r.sealed = true }

// Tokens returns the registered tokens, sorted.
func (r *Registry) Tokens() []signalpipe.Token {
	out := make([]signalpipe.Token, 0, len(r.actions))
	for t := range r.actions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Dispatch runs the action bound to tok. An unknown token is a no-op reported
// as handled=false; a panicking action is turned into an error.
func (r *Registry) Dispatch(tok signalpipe.Token) (handled bool, err error) {
	action, ok := r.actions[tok]
	if !ok {
		return false, nil
	}

	handled = true
	defer func() {
		if p := recover(); p != nil {
			err = &ActionPanicError{Token: tok, Value: p}
		}
	}()

	err = action()
	return handled, err
}
