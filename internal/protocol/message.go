package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/freeeve/reframed/internal/binx"
	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

// MessageType is the first byte of every frame.
type MessageType uint8

const (
	MsgProtocolVersion MessageType = iota
	MsgMappingInfoChecksum
	MsgMappingInfoRequest
	MsgFighterKind
	MsgStatusKind
	MsgStageKind
	MsgHitStatusKind
	MsgMappingInfoComplete
	MsgGameStart
	MsgGameResume
	MsgGameEnd
	MsgTrainingStart
	MsgTrainingResume
	MsgTrainingReset
	MsgTrainingEnd
	MsgFighterState
)

var messageNames = [...]string{
	"ProtocolVersion", "MappingInfoChecksum", "MappingInfoRequest",
	"FighterKind", "StatusKind", "StageKind", "HitStatusKind", "MappingInfoComplete",
	"GameStart", "GameResume", "GameEnd",
	"TrainingStart", "TrainingResume", "TrainingReset", "TrainingEnd",
	"FighterState",
}

func (t MessageType) String() string {
	if int(t) < len(messageNames) {
		return messageNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

const (
	// SupportedMajor is the protocol major version this decoder speaks.
	SupportedMajor = 1
	SupportedMinor = 0

	headerSize       = 3
	fighterStateSize = 29
	maxPayload       = 1<<16 - 1
)

// Frame is one message on the wire: [type u8][len u16 BE][payload].
type Frame struct {
	Type    MessageType
	Payload []byte
}

// AppendFrame encodes a frame onto dst.
func AppendFrame(dst []byte, t MessageType, payload []byte) []byte {
	if len(payload) > maxPayload {
		panic("protocol: payload too large")
	}
	dst = append(dst, byte(t))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	return append(dst, payload...)
}

// readFrame reads one frame. A stream that ends inside a frame returns
// io.ErrUnexpectedEOF; a stream that ends between frames returns io.EOF.
func readFrame(r *bufio.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(binary.BigEndian.Uint16(hdr[1:]))
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Type: MessageType(hdr[0]), Payload: payload}, nil
}

// Decoded payloads. Trailing bytes after the known fields are ignored so a
// newer minor version can extend a message.

type versionMsg struct{ major, minor uint8 }

type namedU8 struct {
	id   uint8
	name string
}

type namedU16 struct {
	id   uint16
	name string
}

type statusKindMsg struct {
	fighter mapping.FighterID
	status  mapping.Status
	name    string
}

type gameStartMsg struct {
	stage    mapping.StageID
	slots    []uint8
	fighters []mapping.FighterID
	tags     []string
}

type trainingStartMsg struct {
	stage  mapping.StageID
	player mapping.FighterID
	cpu    mapping.FighterID
}

type fighterStateMsg struct {
	slot  uint8
	state session.PlayerState
}

func be(p []byte) *binx.Reader { return binx.NewReader(p, binary.BigEndian) }

func decodeErr(t MessageType, r *binx.Reader) error {
	if err := r.Err(); err != nil {
		return &DecodeError{Type: t, Err: err}
	}
	return nil
}

func decodeVersion(p []byte) (versionMsg, error) {
	r := be(p)
	m := versionMsg{major: r.U8(), minor: r.U8()}
	return m, decodeErr(MsgProtocolVersion, r)
}

func decodeU32(t MessageType, p []byte) (uint32, error) {
	r := be(p)
	v := r.U32()
	return v, decodeErr(t, r)
}

func decodeNamedU8(t MessageType, p []byte) (namedU8, error) {
	r := be(p)
	m := namedU8{id: r.U8(), name: r.String8()}
	return m, decodeErr(t, r)
}

func decodeNamedU16(t MessageType, p []byte) (namedU16, error) {
	r := be(p)
	m := namedU16{id: r.U16(), name: r.String8()}
	return m, decodeErr(t, r)
}

func decodeStatusKind(p []byte) (statusKindMsg, error) {
	r := be(p)
	m := statusKindMsg{
		fighter: mapping.FighterID(r.U8()),
		status:  mapping.Status(r.U16()),
		name:    r.String8(),
	}
	return m, decodeErr(MsgStatusKind, r)
}

func decodeGameStart(t MessageType, p []byte) (gameStartMsg, error) {
	r := be(p)
	var m gameStartMsg
	m.stage = mapping.StageID(r.U16())
	n := int(r.U8())
	if r.Err() == nil && n == 0 {
		return m, &DecodeError{Type: t, Err: errors.New("zero players")}
	}
	m.slots = append([]uint8(nil), r.Bytes(n)...)
	for _, id := range r.Bytes(n) {
		m.fighters = append(m.fighters, mapping.FighterID(id))
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		m.tags = append(m.tags, r.String8())
	}
	return m, decodeErr(t, r)
}

func decodeTrainingStart(t MessageType, p []byte) (trainingStartMsg, error) {
	r := be(p)
	m := trainingStartMsg{
		stage:  mapping.StageID(r.U16()),
		player: mapping.FighterID(r.U8()),
		cpu:    mapping.FighterID(r.U8()),
	}
	return m, decodeErr(t, r)
}

const (
	flagAttackConnected = 0x01
	flagFacingDirection = 0x02
)

func decodeFighterState(p []byte) (fighterStateMsg, error) {
	if len(p) < fighterStateSize {
		return fighterStateMsg{}, &DecodeError{
			Type: MsgFighterState,
			Err:  fmt.Errorf("%d bytes, want %d", len(p), fighterStateSize),
		}
	}
	r := be(p)
	var m fighterStateMsg
	st := &m.state
	st.Frame = r.U32()
	m.slot = r.U8()
	st.PosX = r.F32()
	st.PosY = r.F32()
	st.Damage = float32(r.U16()) / 50
	st.Hitstun = float32(r.U16()) / 100
	st.Shield = float32(r.U16()) / 200
	st.Status = mapping.Status(r.U16())
	for _, b := range r.Bytes(5) {
		st.Motion = st.Motion<<8 | uint64(b)
	}
	st.HitStatus = mapping.HitStatus(r.U8())
	st.Stocks = r.U8()
	flags := r.U8()
	st.AttackConnected = flags&flagAttackConnected != 0
	st.FacingDirection = flags&flagFacingDirection != 0
	return m, decodeErr(MsgFighterState, r)
}

// EncodeFighterState is the inverse of the console's FighterState encoding.
// Damage, hitstun and shield are quantized the same way the console does.
func EncodeFighterState(slot uint8, st session.PlayerState) []byte {
	b := make([]byte, 0, fighterStateSize)
	b = binary.BigEndian.AppendUint32(b, st.Frame)
	b = append(b, slot)
	b = binary.BigEndian.AppendUint32(b, math.Float32bits(st.PosX))
	b = binary.BigEndian.AppendUint32(b, math.Float32bits(st.PosY))
	b = binary.BigEndian.AppendUint16(b, uint16(st.Damage*50))
	b = binary.BigEndian.AppendUint16(b, uint16(st.Hitstun*100))
	b = binary.BigEndian.AppendUint16(b, uint16(st.Shield*200))
	b = binary.BigEndian.AppendUint16(b, uint16(st.Status))
	for shift := 32; shift >= 0; shift -= 8 {
		b = append(b, byte(st.Motion>>shift))
	}
	b = append(b, byte(st.HitStatus), st.Stocks)
	var flags byte
	if st.AttackConnected {
		flags |= flagAttackConnected
	}
	if st.FacingDirection {
		flags |= flagFacingDirection
	}
	return append(b, flags)
}

// EncodeGameStart builds a GameStart/GameResume payload.
func EncodeGameStart(stage mapping.StageID, slots []uint8, fighters []mapping.FighterID, tags []string) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(stage))
	b = append(b, uint8(len(slots)))
	b = append(b, slots...)
	for _, f := range fighters {
		b = append(b, uint8(f))
	}
	for _, tag := range tags {
		b = binx.AppendString8(b, tag)
	}
	return b
}

// EncodeTrainingStart builds a TrainingStart/TrainingResume payload.
func EncodeTrainingStart(stage mapping.StageID, player, cpu mapping.FighterID) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(stage))
	return append(b, uint8(player), uint8(cpu))
}
