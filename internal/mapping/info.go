package mapping

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync/atomic"

	"github.com/freeeve/reframed/internal/binx"
)

// Info aggregates the four tables captured once per console connection. It
// is shared by every session recorded on that connection and must not be
// modified once a session references it.
type Info struct {
	Fighter   Table[FighterID]
	Stage     Table[StageID]
	HitStatus Table[HitStatus]
	Status    StatusMapping

	// ConsoleChecksum is the value the console announced for this table set
	// during negotiation. It lets a reconnect skip the transfer when nothing
	// changed; it is unrelated to Checksum.
	ConsoleChecksum uint32
}

// Mapping block encoding (little endian), used by the session container:
//
//	ConsoleChecksum u32
//	Fighter   u16 count, {u8 id, str16 name}
//	Stage     u16 count, {u16 id, str16 name}
//	HitStatus u16 count, {u8 id, str16 name}
//	Base      u16 count, {u16 status, str16 name}
//	Specific  u16 count, {u8 fighter, u16 count, {u16 status, str16 name}}
//
// Entries are written in ascending code order so equal tables always encode
// to identical bytes.

// MarshalBinary encodes the tables in canonical form.
func (m *Info) MarshalBinary() ([]byte, error) {
	le := binary.LittleEndian
	buf := le.AppendUint32(nil, m.ConsoleChecksum)

	buf = le.AppendUint16(buf, uint16(m.Fighter.Len()))
	for _, id := range m.Fighter.Codes() {
		name, _ := m.Fighter.Name(id)
		buf = append(buf, uint8(id))
		buf = binx.AppendString16(buf, le, name)
	}

	buf = le.AppendUint16(buf, uint16(m.Stage.Len()))
	for _, id := range m.Stage.Codes() {
		name, _ := m.Stage.Name(id)
		buf = le.AppendUint16(buf, uint16(id))
		buf = binx.AppendString16(buf, le, name)
	}

	buf = le.AppendUint16(buf, uint16(m.HitStatus.Len()))
	for _, id := range m.HitStatus.Codes() {
		name, _ := m.HitStatus.Name(id)
		buf = append(buf, uint8(id))
		buf = binx.AppendString16(buf, le, name)
	}

	buf = appendStatusTable(buf, m.Status.Base())

	fighters := m.Status.SpecificFighters()
	buf = le.AppendUint16(buf, uint16(len(fighters)))
	for _, id := range fighters {
		buf = append(buf, uint8(id))
		buf = appendStatusTable(buf, m.Status.Specific(id))
	}
	return buf, nil
}

func appendStatusTable(buf []byte, t *Table[Status]) []byte {
	le := binary.LittleEndian
	buf = le.AppendUint16(buf, uint16(t.Len()))
	for _, status := range t.Codes() {
		name, _ := t.Name(status)
		buf = le.AppendUint16(buf, uint16(status))
		buf = binx.AppendString16(buf, le, name)
	}
	return buf
}

// UnmarshalBinary replaces m with the tables encoded in data.
func (m *Info) UnmarshalBinary(data []byte) error {
	r := binx.NewReader(data, binary.LittleEndian)
	var out Info
	out.ConsoleChecksum = r.U32()

	for n := int(r.U16()); n > 0 && r.Err() == nil; n-- {
		id := FighterID(r.U8())
		out.Fighter.Add(id, r.String16())
	}
	for n := int(r.U16()); n > 0 && r.Err() == nil; n-- {
		id := StageID(r.U16())
		out.Stage.Add(id, r.String16())
	}
	for n := int(r.U16()); n > 0 && r.Err() == nil; n-- {
		id := HitStatus(r.U8())
		out.HitStatus.Add(id, r.String16())
	}
	for n := int(r.U16()); n > 0 && r.Err() == nil; n-- {
		status := Status(r.U16())
		out.Status.AddBase(status, r.String16())
	}
	for n := int(r.U16()); n > 0 && r.Err() == nil; n-- {
		fighter := FighterID(r.U8())
		for k := int(r.U16()); k > 0 && r.Err() == nil; k-- {
			status := Status(r.U16())
			out.Status.AddSpecific(fighter, status, r.String16())
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode mapping info: %w", err)
	}
	if r.Remaining() != 0 {
		return fmt.Errorf("decode mapping info: %d trailing bytes", r.Remaining())
	}
	*m = out
	return nil
}

// Checksum is the CRC32 (IEEE) of the canonical encoding.
func (m *Info) Checksum() uint32 {
	buf, _ := m.MarshalBinary()
	return crc32.ChecksumIEEE(buf)
}

// Equal compares all tables and the console checksum.
func (m *Info) Equal(o *Info) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.ConsoleChecksum == o.ConsoleChecksum &&
		m.Fighter.Equal(&o.Fighter) &&
		m.Stage.Equal(&o.Stage) &&
		m.HitStatus.Equal(&o.HitStatus) &&
		m.Status.Equal(&o.Status)
}

// Clone returns a deep copy, safe to modify.
func (m *Info) Clone() *Info {
	return &Info{
		Fighter:         m.Fighter.Clone(),
		Stage:           m.Stage.Clone(),
		HitStatus:       m.HitStatus.Clone(),
		Status:          m.Status.Clone(),
		ConsoleChecksum: m.ConsoleChecksum,
	}
}

// FighterName is a convenience for display code.
func (m *Info) FighterName(id FighterID) string {
	if name, ok := m.Fighter.Name(id); ok {
		return name
	}
	return fmt.Sprintf("fighter(%d)", id)
}

// StageName is a convenience for display code.
func (m *Info) StageName(id StageID) string {
	if name, ok := m.Stage.Name(id); ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", id)
}

// Cache holds the most recently negotiated Info and is shared between
// successive connections. Store swaps the pointer atomically.
type Cache struct {
	p atomic.Pointer[Info]
}

// Load returns the cached Info or nil.
func (c *Cache) Load() *Info { return c.p.Load() }

func (c *Cache) Store(info *Info) { c.p.Store(info) }
