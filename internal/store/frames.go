package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

// recordSize is the size of one encoded state before striping:
// tsDelta(8) frame(4) posx posy damage hitstun shield(5x4) status(2)
// motion(8) hit(1) stocks(1) flags(1)
const recordSize = 45

const (
	flagAttackConnected = 0x01
	flagFacingDirection = 0x02
)

func putRecord(b []byte, prevTS uint64, st session.PlayerState) {
	le := binary.LittleEndian
	le.PutUint64(b[0:8], st.TimeStamp-prevTS)
	le.PutUint32(b[8:12], st.Frame)
	le.PutUint32(b[12:16], math.Float32bits(st.PosX))
	le.PutUint32(b[16:20], math.Float32bits(st.PosY))
	le.PutUint32(b[20:24], math.Float32bits(st.Damage))
	le.PutUint32(b[24:28], math.Float32bits(st.Hitstun))
	le.PutUint32(b[28:32], math.Float32bits(st.Shield))
	le.PutUint16(b[32:34], uint16(st.Status))
	le.PutUint64(b[34:42], st.Motion)
	b[42] = uint8(st.HitStatus)
	b[43] = st.Stocks
	var flags uint8
	if st.AttackConnected {
		flags |= flagAttackConnected
	}
	if st.FacingDirection {
		flags |= flagFacingDirection
	}
	b[44] = flags
}

func getRecord(b []byte, prevTS uint64) session.PlayerState {
	le := binary.LittleEndian
	return session.PlayerState{
		TimeStamp:       prevTS + le.Uint64(b[0:8]),
		Frame:           le.Uint32(b[8:12]),
		PosX:            math.Float32frombits(le.Uint32(b[12:16])),
		PosY:            math.Float32frombits(le.Uint32(b[16:20])),
		Damage:          math.Float32frombits(le.Uint32(b[20:24])),
		Hitstun:         math.Float32frombits(le.Uint32(b[24:28])),
		Shield:          math.Float32frombits(le.Uint32(b[28:32])),
		Status:          mapping.Status(le.Uint16(b[32:34])),
		Motion:          le.Uint64(b[34:42]),
		HitStatus:       mapping.HitStatus(b[42]),
		Stocks:          b[43],
		AttackConnected: b[44]&flagAttackConnected != 0,
		FacingDirection: b[44]&flagFacingDirection != 0,
	}
}

// encodeFrames builds the uncompressed frame block. Timestamps are stored as
// deltas to the previous state of the same player.
func encodeFrames(s *session.Session) []byte {
	players := s.PlayerCount()
	n := 0
	for p := 0; p < players; p++ {
		n += s.StateCount(p)
	}

	body := make([]byte, 4*players+n*recordSize)
	for p := 0; p < players; p++ {
		binary.LittleEndian.PutUint32(body[4*p:], uint32(s.StateCount(p)))
	}
	striped := body[4*players:]

	var rec [recordSize]byte
	i := 0
	for p := 0; p < players; p++ {
		var prev uint64
		for _, st := range s.States(p) {
			putRecord(rec[:], prev, st)
			prev = st.TimeStamp
			for bytePos := 0; bytePos < recordSize; bytePos++ {
				striped[bytePos*n+i] = rec[bytePos]
			}
			i++
		}
	}
	return body
}

func decodeFrames(body []byte, players int) ([][]session.PlayerState, error) {
	if len(body) < 4*players {
		return nil, fmt.Errorf("%w: frame block too short for %d players", ErrCorrupt, players)
	}
	counts := make([]int, players)
	n := 0
	for p := range counts {
		counts[p] = int(binary.LittleEndian.Uint32(body[4*p:]))
		n += counts[p]
	}
	striped := body[4*players:]
	if len(striped) != n*recordSize {
		return nil, fmt.Errorf("%w: frame block holds %d bytes, want %d", ErrCorrupt, len(striped), n*recordSize)
	}

	states := make([][]session.PlayerState, players)
	var rec [recordSize]byte
	i := 0
	for p := 0; p < players; p++ {
		states[p] = make([]session.PlayerState, 0, counts[p])
		var prev uint64
		for k := 0; k < counts[p]; k++ {
			for bytePos := 0; bytePos < recordSize; bytePos++ {
				rec[bytePos] = striped[bytePos*n+i]
			}
			st := getRecord(rec[:], prev)
			prev = st.TimeStamp
			states[p] = append(states[p], st)
			i++
		}
	}
	return states, nil
}
