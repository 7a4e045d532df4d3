package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

type playerTrack struct {
	fighter mapping.FighterID
	stocks  uint8
	damage  []float32
}

// savedGame builds a frozen Bo3 game whose states start at start and are
// spaced step milliseconds apart.
func savedGame(t *testing.T, start, step uint64, players ...playerTrack) *session.Session {
	t.Helper()
	p := session.Params{
		Mapping: &mapping.Info{},
		Stage:   31,
		Game:    &session.GameMeta{SetNumber: 1, GameNumber: 1, Format: session.Format(session.Bo3)},
	}
	states := make([][]session.PlayerState, len(players))
	for i, pl := range players {
		p.Fighters = append(p.Fighters, pl.fighter)
		p.Tags = append(p.Tags, string(rune('A'+i)))
		for j, d := range pl.damage {
			states[i] = append(states[i], session.PlayerState{
				TimeStamp: start + uint64(j)*step,
				Frame:     uint32(j),
				Damage:    d,
				Stocks:    pl.stocks,
			})
		}
	}
	s, err := session.NewSaved(p, states)
	require.NoError(t, err)
	return s
}

func timestamps(ds *DataSet) []uint64 {
	out := make([]uint64, ds.Len())
	for i := range out {
		out[i] = ds.At(i).State.TimeStamp
	}
	return out
}

func TestFromSessionsIsSorted(t *testing.T) {
	a := savedGame(t, 1000, 10,
		playerTrack{fighter: 1, stocks: 3, damage: []float32{0, 1, 2}},
		playerTrack{fighter: 2, stocks: 3, damage: []float32{0, 0, 0}})
	ds := FromSessions(a)

	require.Equal(t, 6, ds.Len())
	require.True(t, ds.IsSorted())
	require.Equal(t, []uint64{1000, 1000, 1010, 1010, 1020, 1020}, timestamps(ds))
	// equal timestamps keep session order: player 0 before player 1
	require.Equal(t, 0, ds.At(0).Player)
	require.Equal(t, 1, ds.At(1).Player)
	require.Equal(t, []*session.Session{a}, ds.Sessions())
}

func TestMergeDataFromInterleaves(t *testing.T) {
	a := savedGame(t, 1000, 20, playerTrack{fighter: 1, stocks: 3, damage: []float32{0, 0, 0, 0}})
	b := savedGame(t, 1030, 20, playerTrack{fighter: 2, stocks: 3, damage: []float32{0, 0}})

	ds := FromSessions(a)
	ds.MergeDataFrom(FromSessions(b))

	require.True(t, ds.IsSorted())
	require.Equal(t, []uint64{1000, 1020, 1030, 1040, 1050, 1060}, timestamps(ds))
	require.Len(t, ds.Sessions(), 2)
}

func TestMergeEmpty(t *testing.T) {
	a := savedGame(t, 1000, 20, playerTrack{fighter: 1, stocks: 3, damage: []float32{0, 0}})
	ds := FromSessions(a)
	ds.MergeDataFrom(New())
	require.Equal(t, 2, ds.Len())

	empty := New()
	empty.MergeDataFrom(ds)
	require.Equal(t, timestamps(ds), timestamps(empty))
}

func TestAddDataPointToEndKeepsOrder(t *testing.T) {
	ds := New()
	for _, ts := range []uint64{10, 20, 30, 15, 30, 5} {
		ds.AddDataPointToEnd(DataPoint{State: session.PlayerState{TimeStamp: ts}})
	}
	require.True(t, ds.IsSorted())
	require.Equal(t, []uint64{5, 10, 15, 20, 30, 30}, timestamps(ds))
}

func TestReplaceDataWith(t *testing.T) {
	a := savedGame(t, 1000, 10, playerTrack{fighter: 1, stocks: 3, damage: []float32{0, 0, 0}})
	b := savedGame(t, 5000, 10, playerTrack{fighter: 2, stocks: 3, damage: []float32{0}})

	ds := FromSessions(a)
	ds.ReplaceDataWith(FromSessions(b))
	require.Equal(t, []uint64{5000}, timestamps(ds))
}

func TestCloneIsIndependent(t *testing.T) {
	a := savedGame(t, 1000, 10, playerTrack{fighter: 1, stocks: 3, damage: []float32{0, 0}})
	ds := FromSessions(a)
	c := ds.Clone()
	c.Clear()
	require.Equal(t, 2, ds.Len())
	require.Equal(t, 0, c.Len())
}

func TestSummarize(t *testing.T) {
	g1 := savedGame(t, 1000, 10,
		playerTrack{fighter: 1, stocks: 3, damage: []float32{10, 20}},
		playerTrack{fighter: 2, stocks: 2, damage: []float32{30, 50}})
	g2 := savedGame(t, 2000, 10,
		playerTrack{fighter: 1, stocks: 1, damage: []float32{40}},
		playerTrack{fighter: 3, stocks: 2, damage: []float32{0}})

	sum := Summarize(FromSessions(g1, g2))
	require.Equal(t, 6, sum.Points)
	require.Equal(t, 2, sum.Sessions)
	require.Equal(t, time.UnixMilli(1000), sum.Start)
	require.Equal(t, time.UnixMilli(2000), sum.End)
	require.Len(t, sum.Fighters, 3)

	f1 := sum.Fighters[0]
	require.Equal(t, mapping.FighterID(1), f1.Fighter)
	require.Equal(t, "fighter(1)", f1.Name)
	require.Equal(t, 3, f1.Samples)
	require.InDelta(t, 70.0/3, f1.MeanDamage, 1e-9)
	require.InDelta(t, 15.2753, f1.StdDamage, 1e-4)
	require.Equal(t, 2, f1.Games)
	require.Equal(t, 1, f1.Wins)

	f2 := sum.Fighters[1]
	require.Equal(t, 1, f2.Games)
	require.Equal(t, 0, f2.Wins)
	require.InDelta(t, 40.0, f2.MeanDamage, 1e-9)

	f3 := sum.Fighters[2]
	require.Equal(t, 1, f3.Samples)
	require.Equal(t, 1, f3.Wins)
	require.Zero(t, f3.StdDamage)
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(New())
	require.Zero(t, sum.Points)
	require.Empty(t, sum.Fighters)
}
