package store

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/freeeve/reframed/internal/binx"
	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

// layout lists the keys that distinguish one legacy JSON layout from the
// others. All layouts share:
//
//	{"version": "1.x",
//	 "mappinginfo": {"fighterstatus": {...}, "fighterid": {"id": name}, "stageid": {"id": name}},
//	 "gameinfo": {"format": str, "number": int, "stageid": int, ...},
//	 "playerinfo": [{"fighterid": int, "tag": str}, ...],
//	 "playerstates": base64}
type layout struct {
	statusTables  bool // fighterstatus.base and .specific hold [enum, short, custom] triplets
	nullSpecific  bool // fighterstatus.specific may be null
	hitStatus     bool // mappinginfo.hitstatus
	names         bool // playerinfo[].name
	setNumber     bool // gameinfo.set
	winner        bool // gameinfo.winner
	timeStamps    bool // gameinfo.timestampstart/timestampend replace gameinfo.date
	perStateStamp bool // each state carries its own timestamp
}

var (
	layout10 = layout{}
	layout11 = layout{statusTables: true}
	layout12 = layout{statusTables: true, names: true, setNumber: true}
	layout13 = layout{statusTables: true, names: true, setNumber: true, hitStatus: true, winner: true}
	layout14 = layout{statusTables: true, nullSpecific: true, names: true, setNumber: true,
		hitStatus: true, winner: true, timeStamps: true, perStateStamp: true}
)

func (l layout) matches(doc object) bool {
	if !doc.is("mappinginfo", shapeObject) || !doc.is("gameinfo", shapeObject) ||
		!doc.is("playerinfo", shapeArray) || !doc.is("playerstates", shapeString) {
		return false
	}

	mi := doc.obj("mappinginfo")
	if !mi.is("fighterstatus", shapeObject) || !mi.is("fighterid", shapeObject) || !mi.is("stageid", shapeObject) {
		return false
	}
	if l.statusTables {
		fs := mi.obj("fighterstatus")
		specific := []byte{shapeObject}
		if l.nullSpecific {
			specific = append(specific, shapeNull)
		}
		if !fs.is("base", shapeObject) || !fs.is("specific", specific...) {
			return false
		}
	}
	if l.hitStatus && !mi.is("hitstatus", shapeObject) {
		return false
	}

	gi := doc.obj("gameinfo")
	if !gi.is("format", shapeString) || !gi.is("number", shapeNumber) || !gi.is("stageid", shapeNumber) {
		return false
	}
	if l.timeStamps {
		if !gi.is("timestampstart", shapeNumber) || !gi.is("timestampend", shapeNumber) {
			return false
		}
	} else if !gi.is("date", shapeString) {
		return false
	}
	if l.setNumber && !gi.is("set", shapeNumber) || l.winner && !gi.is("winner", shapeNumber) {
		return false
	}

	for _, p := range doc.objs("playerinfo") {
		if !p.is("fighterid", shapeNumber) || !p.is("tag", shapeString) {
			return false
		}
		if l.names && !p.is("name", shapeString) {
			return false
		}
	}
	return true
}

type legacyGameInfo struct {
	Date           string `json:"date"`
	TimeStampStart uint64 `json:"timestampstart"`
	TimeStampEnd   uint64 `json:"timestampend"`
	Format         string `json:"format"`
	Number         int    `json:"number"`
	Set            int    `json:"set"`
	StageID        uint16 `json:"stageid"`
	Winner         int    `json:"winner"`
}

type legacyPlayer struct {
	FighterID uint8  `json:"fighterid"`
	Tag       string `json:"tag"`
	Name      string `json:"name"`
}

// stateDecoder unpacks the decoded playerstates blob. start is the session
// start in ms, used by layouts without per-state timestamps.
type stateDecoder func(blob []byte, players int, start uint64) ([][]session.PlayerState, error)

func loadLayout(doc object, l layout, states stateDecoder) (*decoded, error) {
	info, err := legacyMapping(doc.obj("mappinginfo"), l)
	if err != nil {
		return nil, err
	}

	var gi legacyGameInfo
	if err := json.Unmarshal(doc["gameinfo"], &gi); err != nil {
		return nil, fmt.Errorf("gameinfo: %w", err)
	}
	var players []legacyPlayer
	if err := json.Unmarshal(doc["playerinfo"], &players); err != nil {
		return nil, fmt.Errorf("playerinfo: %w", err)
	}
	if len(players) == 0 {
		return nil, errors.New("no players")
	}

	meta := &session.GameMeta{
		SetNumber:  1,
		GameNumber: gi.Number,
		Format:     session.ParseSetFormat(gi.Format),
	}
	if l.setNumber {
		meta.SetNumber = gi.Set
	}
	p := session.Params{Mapping: info, Stage: mapping.StageID(gi.StageID), Game: meta}
	for _, pl := range players {
		p.Fighters = append(p.Fighters, mapping.FighterID(pl.FighterID))
		p.Tags = append(p.Tags, pl.Tag)
		name := pl.Tag
		if l.names {
			name = pl.Name
		}
		meta.PlayerNames = append(meta.PlayerNames, name)
	}

	var start uint64
	if !l.perStateStamp {
		t, err := parseQtDate(gi.Date)
		if err != nil {
			return nil, err
		}
		start = uint64(t.UnixMilli())
	}

	blob, err := decodeBase64(doc.str("playerstates"))
	if err != nil {
		return nil, fmt.Errorf("playerstates: %w", err)
	}
	st, err := states(blob, len(players), start)
	if err != nil {
		return nil, fmt.Errorf("playerstates: %w", err)
	}
	return &decoded{params: p, states: st}, nil
}

func legacyMapping(mi object, l layout) (*mapping.Info, error) {
	info := &mapping.Info{}

	if err := eachCode(mi, "fighterid", 8, func(code uint64, name string) {
		info.Fighter.Add(mapping.FighterID(code), name)
	}); err != nil {
		return nil, err
	}
	if err := eachCode(mi, "stageid", 16, func(code uint64, name string) {
		info.Stage.Add(mapping.StageID(code), name)
	}); err != nil {
		return nil, err
	}
	if l.hitStatus {
		if err := eachCode(mi, "hitstatus", 8, func(code uint64, name string) {
			info.HitStatus.Add(mapping.HitStatus(code), name)
		}); err != nil {
			return nil, err
		}
	}

	// 1.0 wrote a broken status table; it is not loaded.
	if !l.statusTables {
		return info, nil
	}
	fs := mi.obj("fighterstatus")
	var base map[string][]string
	if err := json.Unmarshal(fs["base"], &base); err != nil {
		return nil, fmt.Errorf("fighterstatus.base: %w", err)
	}
	for key, names := range base {
		status, err := parseCode(key, 16)
		if err != nil {
			return nil, fmt.Errorf("fighterstatus.base: %w", err)
		}
		if len(names) != 3 {
			return nil, fmt.Errorf("fighterstatus.base[%s]: %d names, want 3", key, len(names))
		}
		info.Status.AddBase(mapping.Status(status), names[0])
	}

	var specific map[string]map[string][]string
	if err := json.Unmarshal(fs["specific"], &specific); err != nil {
		return nil, fmt.Errorf("fighterstatus.specific: %w", err)
	}
	for fkey, table := range specific {
		fighter, err := parseCode(fkey, 8)
		if err != nil {
			return nil, fmt.Errorf("fighterstatus.specific: %w", err)
		}
		for key, names := range table {
			status, err := parseCode(key, 16)
			if err != nil {
				return nil, fmt.Errorf("fighterstatus.specific[%s]: %w", fkey, err)
			}
			if len(names) != 3 {
				return nil, fmt.Errorf("fighterstatus.specific[%s][%s]: %d names, want 3", fkey, key, len(names))
			}
			info.Status.AddSpecific(mapping.FighterID(fighter), mapping.Status(status), names[0])
		}
	}
	return info, nil
}

func eachCode(mi object, key string, bits int, add func(code uint64, name string)) error {
	var m map[string]string
	if err := json.Unmarshal(mi[key], &m); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for k, name := range m {
		code, err := parseCode(k, bits)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		add(code, name)
	}
	return nil
}

func parseCode(key string, bits int) (uint64, error) {
	code, err := strconv.ParseUint(key, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("bad code %q", key)
	}
	return code, nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not, with
// embedded line breaks.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	encs := []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding}
	var firstErr error
	for _, enc := range encs {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Qt's QDateTime::toString() default (Qt::TextDate), then ISO forms some
// hand-edited files use.
var qtDateLayouts = []string{
	"Mon Jan 2 15:04:05 2006",
	time.ANSIC,
	"2006-01-02T15:04:05",
	time.RFC3339,
}

func parseQtDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range qtDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func frameTime(start uint64, frame uint32) uint64 {
	return start + uint64(float64(frame)*1000/60)
}

func stateCount(r *binx.Reader) (int, error) {
	n := int(r.U32())
	if err := r.Err(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("player has zero states")
	}
	return n, nil
}

func flagsOf(st *session.PlayerState, flags uint8) {
	st.AttackConnected = flags&flagAttackConnected != 0
	st.FacingDirection = flags&flagFacingDirection != 0
}

// decodeStates10 reads the 1.0/1.1 blob (big endian): per player a state
// count, then per state frame u32, status u16, damage f64, stocks u8.
func decodeStates10(blob []byte, players int, start uint64) ([][]session.PlayerState, error) {
	r := binx.NewReader(blob, binary.BigEndian)
	out := make([][]session.PlayerState, players)
	for p := range out {
		n, err := stateCount(r)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			st := session.PlayerState{
				Frame:  r.U32(),
				Status: mapping.Status(r.U16()),
				Damage: float32(r.F64()),
				Stocks: r.U8(),
				Shield: 50,
			}
			if err := r.Err(); err != nil {
				return nil, err
			}
			if st.Frame == 0 {
				return nil, errors.New("state with frame 0")
			}
			st.TimeStamp = frameTime(start, st.Frame)
			out[p] = append(out[p], st)
		}
	}
	return out, nil
}

// decodeStates12 reads the 1.2 blob (big endian, f64 floats).
func decodeStates12(blob []byte, players int, start uint64) ([][]session.PlayerState, error) {
	r := binx.NewReader(blob, binary.BigEndian)
	out := make([][]session.PlayerState, players)
	for p := range out {
		n, err := stateCount(r)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			st := session.PlayerState{Frame: r.U32()}
			st.PosX = float32(r.F64())
			st.PosY = float32(r.F64())
			st.Damage = float32(r.F64())
			st.Hitstun = float32(r.F64())
			st.Shield = float32(r.F64())
			st.Status = mapping.Status(r.U16())
			st.Motion = r.U64()
			st.HitStatus = mapping.HitStatus(r.U8())
			st.Stocks = r.U8()
			flagsOf(&st, r.U8())
			if err := r.Err(); err != nil {
				return nil, err
			}
			st.TimeStamp = frameTime(start, st.Frame)
			out[p] = append(out[p], st)
		}
	}
	return out, nil
}

// readState13 reads the little-endian f32 record shared by 1.3 and 1.4.
func readState13(r *binx.Reader, st *session.PlayerState) {
	st.Frame = r.U32()
	st.PosX = r.F32()
	st.PosY = r.F32()
	st.Damage = r.F32()
	st.Hitstun = r.F32()
	st.Shield = r.F32()
	st.Status = mapping.Status(r.U16())
	lo := r.U32()
	hi := r.U8()
	st.Motion = uint64(hi)<<32 | uint64(lo)
	st.HitStatus = mapping.HitStatus(r.U8())
	st.Stocks = r.U8()
	flagsOf(st, r.U8())
}

func decodeStates13(blob []byte, players int, start uint64) ([][]session.PlayerState, error) {
	r := binx.NewReader(blob, binary.LittleEndian)
	out := make([][]session.PlayerState, players)
	for p := range out {
		n, err := stateCount(r)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			var st session.PlayerState
			readState13(r, &st)
			if err := r.Err(); err != nil {
				return nil, err
			}
			st.TimeStamp = frameTime(start, st.Frame)
			out[p] = append(out[p], st)
		}
	}
	return out, nil
}

func decodeStates14(blob []byte, players int, _ uint64) ([][]session.PlayerState, error) {
	r := binx.NewReader(blob, binary.LittleEndian)
	out := make([][]session.PlayerState, players)
	for p := range out {
		n, err := stateCount(r)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			st := session.PlayerState{TimeStamp: r.U64()}
			readState13(r, &st)
			if err := r.Err(); err != nil {
				return nil, err
			}
			out[p] = append(out[p], st)
		}
	}
	return out, nil
}
