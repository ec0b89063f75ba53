package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storechain/core/types"
)

func TestFanoutDeliversToAll(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	fan := Fanout{first, nil, second}
	fan.Emit(Wrap(&types.Event{Type: "a"}))
	require.Len(t, first.Events(), 1)
	require.Len(t, second.Events(), 1)
	require.Len(t, second.OfType("a"), 1)
	require.Empty(t, second.OfType("b"))
}

func TestBroadcasterSubscribeAndCancel(t *testing.T) {
	b := NewBroadcaster(1)
	ch, cancel := b.Subscribe()
	b.Emit(Wrap(&types.Event{Type: "one"}))
	b.Emit(Wrap(&types.Event{Type: "dropped"}))

	got := <-ch
	require.Equal(t, "one", got.EventType())
	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
	b.Emit(Wrap(&types.Event{Type: "after"}))
}

func TestToTypedFallsBackToType(t *testing.T) {
	typed := ToTyped(Wrap(&types.Event{Type: "x", Attributes: map[string]string{"k": "v"}}))
	require.Equal(t, "v", typed.Attributes["k"])
	require.Nil(t, ToTyped(nil))
}
