// Package session models one recorded match or training-mode instance: the
// per-player state sequences, the mapping tables they were captured with, and
// the set metadata a user can edit while the match runs.
package session

import (
	"fmt"
	"time"

	"github.com/freeeve/reframed/internal/mapping"
)

// PlayerState is one sampled instant of one player. Values are never
// modified after construction.
type PlayerState struct {
	TimeStamp uint64 // ms since unix epoch
	Frame     uint32

	PosX    float32
	PosY    float32
	Damage  float32
	Hitstun float32
	Shield  float32

	Status    mapping.Status
	Motion    uint64
	HitStatus mapping.HitStatus
	Stocks    uint8

	AttackConnected bool
	FacingDirection bool
}

// Time converts TimeStamp.
func (s PlayerState) Time() time.Time {
	return time.UnixMilli(int64(s.TimeStamp))
}

// SameAs compares everything except TimeStamp and Frame. Two consecutive
// states for which SameAs holds are duplicates for change-detection
// purposes.
func (s PlayerState) SameAs(o PlayerState) bool {
	return s.PosX == o.PosX &&
		s.PosY == o.PosY &&
		s.Damage == o.Damage &&
		s.Hitstun == o.Hitstun &&
		s.Shield == o.Shield &&
		s.Status == o.Status &&
		s.Motion == o.Motion &&
		s.HitStatus == o.HitStatus &&
		s.Stocks == o.Stocks &&
		s.AttackConnected == o.AttackConnected &&
		s.FacingDirection == o.FacingDirection
}

func (s PlayerState) String() string {
	return fmt.Sprintf("frame=%d ts=%d pos=(%.1f,%.1f) dmg=%.1f status=%d stocks=%d",
		s.Frame, s.TimeStamp, s.PosX, s.PosY, s.Damage, s.Status, s.Stocks)
}
