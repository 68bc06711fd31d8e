package events

import (
	"testing"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_SubscribeByType(t *testing.T) {
	e := NewEmitter("s1")

	var all, expands []Type
	e.Subscribe(func(ev *Event) { all = append(all, ev.Type) })
	e.Subscribe(func(ev *Event) { expands = append(expands, ev.Type) }, TypeExpand)

	e.Emit(TypeExpand, graph.NewIdentity("A", "core"))
	e.Emit(TypeGraphChanged)

	assert.Equal(t, []Type{TypeExpand, TypeGraphChanged}, all)
	assert.Equal(t, []Type{TypeExpand}, expands)
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter("s1")
	calls := 0
	id := e.Subscribe(func(*Event) { calls++ })

	assert.True(t, e.Unsubscribe(id))
	assert.False(t, e.Unsubscribe(id))
	e.Emit(TypeRemove)
	assert.Zero(t, calls)
}

func TestEmitter_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	e := NewEmitter("s1")
	reached := false
	e.Subscribe(func(*Event) { panic("boom") })
	e.Subscribe(func(*Event) { reached = true })

	require.NotPanics(t, func() { e.Emit(TypeHide) })
	assert.True(t, reached)
}

func TestEmitter_RecentIsBounded(t *testing.T) {
	e := NewEmitter("s1", WithBufferSize(2))
	e.Emit(TypeExpand)
	e.Emit(TypeHide)
	e.Emit(TypeCondense)

	recent := e.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, TypeHide, recent[0].Type)
	assert.Equal(t, TypeCondense, recent[1].Type)
	assert.Equal(t, "s1", recent[1].SessionID)
}
