package alarmsync

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type State string

const (
	Disabled State = "disabled"
	Starting State = "starting"
	Auditing State = "auditing"
	InSync   State = "in_sync"
)

type Trigger string

const (
	TriggerStart      Trigger = "start"
	TriggerAuditAlarm Trigger = "audit_alarm"
	TriggerSyncAlarm  Trigger = "sync_alarm"
	TriggerSuccess    Trigger = "success"
	TriggerFailure    Trigger = "failure"
	TriggerStop       Trigger = "stop"
)

type transition struct {
	from []State
	to   State
}

// an empty from list matches any state
var transitions = map[Trigger]transition{
	TriggerStart:      {from: []State{Disabled}, to: Starting},
	TriggerAuditAlarm: {from: []State{Starting, Auditing, InSync}, to: Auditing},
	TriggerSyncAlarm:  {from: []State{Starting}, to: InSync},
	TriggerSuccess:    {from: []State{Auditing}, to: InSync},
	TriggerFailure:    {from: []State{Auditing}, to: Auditing},
	TriggerStop:       {to: Disabled},
}

type machine struct {
	mu      sync.Mutex
	state   State
	onEnter func(from, to State)
}

func newMachine(initial State) *machine {
	return &machine{state: initial}
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies the trigger, leaving the state untouched when it is not
// allowed from the current one
func (m *machine) Fire(t Trigger) (State, error) {
	m.mu.Lock()

	tr, ok := transitions[t]
	if !ok {
		state := m.state
		m.mu.Unlock()
		return state, errors.Wrapf(ErrInvalidTransition, "unknown trigger %q", t)
	}

	from := m.state
	if !allowed(tr.from, from) {
		m.mu.Unlock()
		return from, errors.Wrapf(ErrInvalidTransition, "%s from %s", t, from)
	}

	m.state = tr.to
	onEnter := m.onEnter
	m.mu.Unlock()

	if onEnter != nil {
		onEnter(from, tr.to)
	}

	return tr.to, nil
}

func allowed(from []State, s State) bool {
	if len(from) == 0 {
		return true
	}

	for _, f := range from {
		if f == s {
			return true
		}
	}

	return false
}
