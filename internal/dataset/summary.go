package dataset

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/freeeve/reframed/internal/mapping"
)

// FighterSummary aggregates the samples of one fighter.
type FighterSummary struct {
	Fighter    mapping.FighterID `json:"fighter"`
	Name       string            `json:"name"`
	Samples    int               `json:"samples"`
	MeanDamage float64           `json:"mean_damage"`
	StdDamage  float64           `json:"std_damage"`
	Games      int               `json:"games"`
	Wins       int               `json:"wins"`
}

// Summary describes a DataSet.
type Summary struct {
	Points   int              `json:"points"`
	Sessions int              `json:"sessions"`
	Start    time.Time        `json:"start"`
	End      time.Time        `json:"end"`
	Fighters []FighterSummary `json:"fighters"`
}

// Summarize computes per-fighter damage statistics and win counts. Fighters
// are listed by ascending ID.
func Summarize(ds *DataSet) Summary {
	sum := Summary{Points: ds.Len()}
	if ds.Len() == 0 {
		return sum
	}
	sum.Start = ds.At(0).State.Time()
	sum.End = ds.At(ds.Len() - 1).State.Time()

	damage := make(map[mapping.FighterID][]float64)
	names := make(map[mapping.FighterID]string)
	for _, p := range ds.points {
		f := p.Session.Fighter(p.Player)
		damage[f] = append(damage[f], float64(p.State.Damage))
		if _, ok := names[f]; !ok {
			names[f] = p.Session.Mapping().FighterName(f)
		}
	}

	games := make(map[mapping.FighterID]int)
	wins := make(map[mapping.FighterID]int)
	sessions := ds.Sessions()
	sum.Sessions = len(sessions)
	for _, s := range sessions {
		if !s.IsGame() {
			continue
		}
		for p := 0; p < s.PlayerCount(); p++ {
			games[s.Fighter(p)]++
		}
		if w := s.Winner(); w >= 0 {
			wins[s.Fighter(w)]++
		}
	}

	for f, xs := range damage {
		fs := FighterSummary{
			Fighter: f,
			Name:    names[f],
			Samples: len(xs),
			Games:   games[f],
			Wins:    wins[f],
		}
		if len(xs) > 1 {
			fs.MeanDamage, fs.StdDamage = stat.MeanStdDev(xs, nil)
		} else {
			fs.MeanDamage = xs[0]
		}
		sum.Fighters = append(sum.Fighters, fs)
	}
	sort.Slice(sum.Fighters, func(i, j int) bool {
		return sum.Fighters[i].Fighter < sum.Fighters[j].Fighter
	})
	return sum
}
