// Package workflow is a small generic state machine used by the task and
// product request workflows.
package workflow

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
)

// Hook runs inside the transition's transaction after the state has been
// swapped. Returning an error rolls the transition back.
type Hook[T any] func(ctx context.Context, tx *gorm.DB, entity T) error

// Machine describes the states, edges and on-enter hooks of one workflow.
type Machine[S ~string, T any] struct {
	name     string
	states   map[S]struct{}
	edges    map[S]map[S]struct{}
	terminal map[S]struct{}
	onEnter  map[S][]Hook[T]
}

// Edge is one allowed from -> to pair.
type Edge[S ~string] struct {
	From S
	To   S
}

// New builds a machine. Every state named by an edge or the terminal list is
// registered; edges leaving a terminal state are rejected.
func New[S ~string, T any](name string, edges []Edge[S], terminal ...S) (*Machine[S, T], error) {
	m := &Machine[S, T]{
		name:     name,
		states:   make(map[S]struct{}),
		edges:    make(map[S]map[S]struct{}),
		terminal: make(map[S]struct{}),
		onEnter:  make(map[S][]Hook[T]),
	}
	for _, s := range terminal {
		m.states[s] = struct{}{}
		m.terminal[s] = struct{}{}
	}
	for _, e := range edges {
		if _, ok := m.terminal[e.From]; ok {
			return nil, fmt.Errorf("workflow %s: terminal state %q cannot have outgoing edges", name, e.From)
		}
		if e.From == e.To {
			return nil, fmt.Errorf("workflow %s: self edge on %q", name, e.From)
		}
		m.states[e.From] = struct{}{}
		m.states[e.To] = struct{}{}
		if m.edges[e.From] == nil {
			m.edges[e.From] = make(map[S]struct{})
		}
		m.edges[e.From][e.To] = struct{}{}
	}
	return m, nil
}

// MustNew is New for package-level machine definitions.
func MustNew[S ~string, T any](name string, edges []Edge[S], terminal ...S) *Machine[S, T] {
	m, err := New[S, T](name, edges, terminal...)
	if err != nil {
		panic(err)
	}
	return m
}

// Name is the workflow label used in metrics and logs.
func (m *Machine[S, T]) Name() string {
	return m.name
}

// OnEnter registers a hook that runs whenever the machine enters state.
func (m *Machine[S, T]) OnEnter(state S, hook Hook[T]) *Machine[S, T] {
	m.onEnter[state] = append(m.onEnter[state], hook)
	return m
}

func (m *Machine[S, T]) Known(s S) bool {
	_, ok := m.states[s]
	return ok
}

func (m *Machine[S, T]) Terminal(s S) bool {
	_, ok := m.terminal[s]
	return ok
}

// Allowed reports whether from -> to is an edge of the machine.
func (m *Machine[S, T]) Allowed(from, to S) bool {
	_, ok := m.edges[from][to]
	return ok
}

// Check validates a transition request against the entity's current state.
// Unknown states and missing edges are INVALID_TRANSITION, anything touching a
// terminal state is TERMINAL_STATE and a current state that moved on since the
// caller read it is STALE_STATE.
func (m *Machine[S, T]) Check(current, expected, to S) error {
	details := map[string]any{
		"workflow": m.name,
		"current":  string(current),
		"expected": string(expected),
		"to":       string(to),
	}
	if !m.Known(current) || !m.Known(expected) || !m.Known(to) {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "unknown workflow state").WithDetails(details)
	}
	if m.Terminal(current) || m.Terminal(expected) {
		return pkgerrors.New(pkgerrors.CodeTerminalState, "workflow is in a terminal state").WithDetails(details)
	}
	if !m.Allowed(expected, to) {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "transition not allowed").WithDetails(details)
	}
	if current != expected {
		return pkgerrors.New(pkgerrors.CodeStaleState, "state changed since it was read").WithDetails(details)
	}
	return nil
}

// Enter runs the hooks registered for state in registration order.
func (m *Machine[S, T]) Enter(ctx context.Context, tx *gorm.DB, state S, entity T) error {
	for _, hook := range m.onEnter[state] {
		if err := hook(ctx, tx, entity); err != nil {
			return err
		}
	}
	return nil
}
