package alarmsync

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine(t *testing.T) {
	t.Run("it walks the happy path", func(t *testing.T) {
		m := newMachine(Disabled)

		for _, step := range []struct {
			trigger Trigger
			want    State
		}{
			{TriggerStart, Starting},
			{TriggerAuditAlarm, Auditing},
			{TriggerFailure, Auditing},
			{TriggerSuccess, InSync},
			{TriggerAuditAlarm, Auditing},
			{TriggerSuccess, InSync},
			{TriggerStop, Disabled},
		} {
			got, err := m.Fire(step.trigger)
			require.NoError(t, err, step.trigger)
			assert.Equal(t, step.want, got)
		}
	})

	t.Run("it syncs without auditing", func(t *testing.T) {
		m := newMachine(Disabled)
		_, err := m.Fire(TriggerStart)
		require.NoError(t, err)

		state, err := m.Fire(TriggerSyncAlarm)
		require.NoError(t, err)
		assert.Equal(t, InSync, state)
	})

	t.Run("it keeps the state on invalid triggers", func(t *testing.T) {
		m := newMachine(Disabled)

		for _, tr := range []Trigger{TriggerAuditAlarm, TriggerSyncAlarm, TriggerSuccess, TriggerFailure, Trigger("bogus")} {
			state, err := m.Fire(tr)
			assert.True(t, errors.Is(err, ErrInvalidTransition), tr)
			assert.Equal(t, Disabled, state)
		}

		_, err := m.Fire(TriggerStart)
		require.NoError(t, err)
		_, err = m.Fire(TriggerStart)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		assert.Equal(t, Starting, m.State())
	})

	t.Run("it stops from any state", func(t *testing.T) {
		for _, s := range []State{Disabled, Starting, Auditing, InSync} {
			m := newMachine(s)
			state, err := m.Fire(TriggerStop)
			require.NoError(t, err)
			assert.Equal(t, Disabled, state)
		}
	})

	t.Run("it reports state changes", func(t *testing.T) {
		var seen [][2]State
		m := newMachine(Disabled)
		m.onEnter = func(from, to State) { seen = append(seen, [2]State{from, to}) }

		_, _ = m.Fire(TriggerStart)
		_, _ = m.Fire(TriggerSuccess)
		_, _ = m.Fire(TriggerAuditAlarm)

		assert.Equal(t, [][2]State{{Disabled, Starting}, {Starting, Auditing}}, seen)
	})
}
