package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitter(t *testing.T) {
	t.Run("cancel removes listener once", func(t *testing.T) {
		var e Emitter[int]
		got := 0
		cancel := e.On(func(v int) { got += v })
		e.Emit(2)
		cancel()
		cancel()
		e.Emit(3)
		require.Equal(t, 2, got)
		require.Equal(t, 0, e.Len())
	})

	t.Run("listener may cancel itself while emitting", func(t *testing.T) {
		var n Notifier
		calls := 0
		var cancel CancelFunc
		cancel = n.OnFire(func() {
			calls++
			cancel()
		})
		n.Fire()
		n.Fire()
		require.Equal(t, 1, calls)
	})
}
