package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

func TestEmptyChainReturnsCopy(t *testing.T) {
	ds, _ := mixed(t)
	for _, c := range []*FilterChain{
		NewFilterChain(),
		func() *FilterChain {
			c := NewFilterChain(&StageFilter{Stages: []mapping.StageID{3}})
			c.SetEnabled(0, false)
			return c
		}(),
	} {
		out := c.Apply(ds)
		require.NotSame(t, ds, out)
		require.Equal(t, ds.Points(), out.Points())

		out.Clear()
		require.NotZero(t, ds.Len())
	}
}

func TestChainAppliesInOrder(t *testing.T) {
	ds, ss := mixed(t)
	games := &GameFilter{AnyFormat: true}
	late := &DateRange{Start: time.UnixMilli(2000)}

	c := NewFilterChain(games, late)
	require.Equal(t, []*session.Session{ss[1]}, c.Apply(ds).Sessions())

	c.SetInverted(1, true)
	require.True(t, c.Inverted(1))
	require.Equal(t, []*session.Session{ss[0]}, c.Apply(ds).Sessions())

	c.SetEnabled(0, false)
	require.False(t, c.Enabled(0))
	require.Equal(t, []*session.Session{ss[0]}, c.Apply(ds).Sessions())
	require.Equal(t, 8, c.Apply(ds).Len())
}

func TestChainEditing(t *testing.T) {
	a := &StageFilter{}
	b := &FighterFilter{}
	c := &PlayerCountFilter{}
	d := &DateRange{}

	chain := NewFilterChain(a, b)
	chain.Add(c)
	chain.Insert(1, d)
	requireOrder(t, chain, a, d, b, c)

	require.True(t, chain.MoveEarlier(2))
	requireOrder(t, chain, a, b, d, c)
	require.False(t, chain.MoveEarlier(0))

	require.True(t, chain.MoveLater(0))
	requireOrder(t, chain, b, a, d, c)
	require.False(t, chain.MoveLater(3))

	chain.SetInverted(1, true)
	require.Equal(t, 1, chain.Remove(a))
	requireOrder(t, chain, b, d, c)
	require.Equal(t, -1, chain.Remove(a))

	// removed filters stay usable and come back enabled and not inverted
	chain.Insert(99, a)
	requireOrder(t, chain, b, d, c, a)
	require.True(t, chain.Enabled(3))
	require.False(t, chain.Inverted(3))
}

func requireOrder(t *testing.T, c *FilterChain, want ...Filter) {
	t.Helper()
	require.Equal(t, len(want), c.Len())
	for i, f := range want {
		require.Same(t, f, c.Filter(i), "position %d", i)
	}
}
