package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/reframed/internal/binx"
	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

// RFRS Format: one session per file.
//
// File structure:
//   Header (32 bytes, little endian):
//     - Magic (4): "RFRS"
//     - Version (2): 1
//     - Flags (2): reserved
//     - MappingChecksum (4): CRC32 of the mapping block
//     - MappingLen (4)
//     - MetaLen (4)
//     - FramesRawLen (4): uncompressed frame block size
//     - FramesChecksum (4): CRC32 of the uncompressed frame block
//     - FramesLen (4): compressed frame block size
//   Mapping block: mapping.Info binary encoding
//   Meta block:
//     - ID (16), Kind (1), Stage (2), PlayerCount (1)
//     - per player: Fighter (1), Tag (str16)
//     - game: SetNumber (2), GameNumber (2), Format (1), FormatLabel (str16),
//       per player Name (str16)
//     - training: PlayerFighter (1), CPUFighter (1)
//   Frame block (zstd):
//     - per player: StateCount (4)
//     - state records, byte-striped: for each of the 45 record bytes, all N
//       values (N = total states over all players)

const (
	Magic      = "RFRS"
	Version    = 1
	HeaderSize = 32
)

// Header is the fixed RFRS file header.
type Header struct {
	Magic           [4]byte
	Version         uint16
	Flags           uint16
	MappingChecksum uint32
	MappingLen      uint32
	MetaLen         uint32
	FramesRawLen    uint32
	FramesChecksum  uint32
	FramesLen       uint32
}

func encodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], h.MappingChecksum)
	binary.LittleEndian.PutUint32(buf[12:16], h.MappingLen)
	binary.LittleEndian.PutUint32(buf[16:20], h.MetaLen)
	binary.LittleEndian.PutUint32(buf[20:24], h.FramesRawLen)
	binary.LittleEndian.PutUint32(buf[24:28], h.FramesChecksum)
	binary.LittleEndian.PutUint32(buf[28:32], h.FramesLen)
	return buf
}

// hasMagic reports whether data starts like an RFRS container.
func hasMagic(data []byte) bool {
	return len(data) >= len(Magic) && string(data[:len(Magic)]) == Magic
}

func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: header too short", ErrCorrupt)
	}
	h := &Header{}
	copy(h.Magic[:], buf[0:4])
	if string(h.Magic[:]) != Magic {
		return nil, fmt.Errorf("%w: invalid magic %q", ErrUnrecognizedFormat, h.Magic)
	}
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.Flags = binary.LittleEndian.Uint16(buf[6:8])
	h.MappingChecksum = binary.LittleEndian.Uint32(buf[8:12])
	h.MappingLen = binary.LittleEndian.Uint32(buf[12:16])
	h.MetaLen = binary.LittleEndian.Uint32(buf[16:20])
	h.FramesRawLen = binary.LittleEndian.Uint32(buf[20:24])
	h.FramesChecksum = binary.LittleEndian.Uint32(buf[24:28])
	h.FramesLen = binary.LittleEndian.Uint32(buf[28:32])
	return h, nil
}

// encodeV1 writes s in the current container format.
func encodeV1(s *session.Session, enc *zstd.Encoder) ([]byte, error) {
	mappingBlock, err := s.Mapping().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode mapping: %w", err)
	}
	meta := encodeMeta(s)
	frames := encodeFrames(s)
	compressed := enc.EncodeAll(frames, nil)

	h := Header{
		Version:         Version,
		MappingChecksum: crc32.ChecksumIEEE(mappingBlock),
		MappingLen:      uint32(len(mappingBlock)),
		MetaLen:         uint32(len(meta)),
		FramesRawLen:    uint32(len(frames)),
		FramesChecksum:  crc32.ChecksumIEEE(frames),
		FramesLen:       uint32(len(compressed)),
	}
	copy(h.Magic[:], Magic)

	out := make([]byte, 0, HeaderSize+len(mappingBlock)+len(meta)+len(compressed))
	out = append(out, encodeHeader(&h)...)
	out = append(out, mappingBlock...)
	out = append(out, meta...)
	return append(out, compressed...), nil
}

// MaxFramesRawLen caps the uncompressed frame block. It is several hours
// of an eight player game.
const MaxFramesRawLen = 1 << 28

// decoded is the result of decoding a container, before it becomes a Session.
type decoded struct {
	params   session.Params
	states   [][]session.PlayerState
	mismatch bool
}

func decodeV1(h *Header, data []byte, dec *zstd.Decoder) (*decoded, error) {
	off := HeaderSize
	end := off + int(h.MappingLen) + int(h.MetaLen) + int(h.FramesLen)
	if end > len(data) || end < off {
		return nil, fmt.Errorf("%w: blocks exceed file size (%d > %d)", ErrCorrupt, end, len(data))
	}

	mappingBlock := data[off : off+int(h.MappingLen)]
	off += int(h.MappingLen)
	metaBlock := data[off : off+int(h.MetaLen)]
	off += int(h.MetaLen)
	framesBlock := data[off : off+int(h.FramesLen)]

	var out decoded
	out.mismatch = crc32.ChecksumIEEE(mappingBlock) != h.MappingChecksum
	info := &mapping.Info{}
	if err := info.UnmarshalBinary(mappingBlock); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	params, err := decodeMeta(metaBlock)
	if err != nil {
		return nil, err
	}
	params.Mapping = info
	params.MappingChecksumMismatch = out.mismatch
	out.params = params

	if h.FramesRawLen > MaxFramesRawLen {
		return nil, fmt.Errorf("%w: frame block size %d exceeds %d", ErrCorrupt, h.FramesRawLen, MaxFramesRawLen)
	}
	frames, err := dec.DecodeAll(framesBlock, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress frames: %v", ErrCorrupt, err)
	}
	if len(frames) != int(h.FramesRawLen) {
		return nil, fmt.Errorf("%w: frame block size %d, want %d", ErrCorrupt, len(frames), h.FramesRawLen)
	}
	if crc32.ChecksumIEEE(frames) != h.FramesChecksum {
		return nil, fmt.Errorf("%w: frame block checksum mismatch", ErrCorrupt)
	}
	out.states, err = decodeFrames(frames, len(params.Fighters))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func encodeMeta(s *session.Session) []byte {
	le := binary.LittleEndian
	id := s.ID()
	buf := append([]byte(nil), id[:]...)
	buf = append(buf, uint8(s.Kind()))
	buf = le.AppendUint16(buf, uint16(s.Stage()))
	buf = append(buf, uint8(s.PlayerCount()))
	for i := 0; i < s.PlayerCount(); i++ {
		buf = append(buf, uint8(s.Fighter(i)))
		buf = binx.AppendString16(buf, le, s.Tag(i))
	}
	if g, ok := s.Game(); ok {
		buf = le.AppendUint16(buf, uint16(g.SetNumber))
		buf = le.AppendUint16(buf, uint16(g.GameNumber))
		buf = append(buf, uint8(g.Format.Kind))
		buf = binx.AppendString16(buf, le, g.Format.Label)
		for _, name := range g.PlayerNames {
			buf = binx.AppendString16(buf, le, name)
		}
	} else {
		t, _ := s.Training()
		buf = append(buf, uint8(t.PlayerFighter), uint8(t.CPUFighter))
	}
	return buf
}

func decodeMeta(buf []byte) (session.Params, error) {
	r := binx.NewReader(buf, binary.LittleEndian)
	var p session.Params
	id, err := uuid.FromBytes(r.Bytes(16))
	if err != nil {
		return p, fmt.Errorf("%w: session id: %v", ErrCorrupt, err)
	}
	p.ID = id
	kind := session.Kind(r.U8())
	p.Stage = mapping.StageID(r.U16())
	n := int(r.U8())
	for i := 0; i < n && r.Err() == nil; i++ {
		p.Fighters = append(p.Fighters, mapping.FighterID(r.U8()))
		p.Tags = append(p.Tags, r.String16())
	}
	switch kind {
	case session.KindGame:
		g := &session.GameMeta{
			SetNumber:  int(r.U16()),
			GameNumber: int(r.U16()),
		}
		g.Format.Kind = session.FormatKind(r.U8())
		g.Format.Label = r.String16()
		for i := 0; i < n && r.Err() == nil; i++ {
			g.PlayerNames = append(g.PlayerNames, r.String16())
		}
		p.Game = g
	case session.KindTraining:
		p.Training = &session.TrainingMeta{
			PlayerFighter: mapping.FighterID(r.U8()),
			CPUFighter:    mapping.FighterID(r.U8()),
		}
	default:
		return p, fmt.Errorf("%w: unknown session kind %d", ErrCorrupt, kind)
	}
	if err := r.Err(); err != nil {
		return p, fmt.Errorf("%w: meta block: %v", ErrCorrupt, err)
	}
	return p, nil
}
