package overlay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
)

const (
	// RecordV1 is the legacy bitmap-only layout without damage fields.
	RecordV1 uint32 = 1
	// RecordV2 adds the damage rectangle.
	RecordV2 uint32 = 2

	recordV1Size = 28
	recordV2Size = 44
)

var (
	ErrUnsupportedVersion = errors.New("overlay: unsupported record version")
	ErrShortRecord        = errors.New("overlay: record too short")
)

// Record describes one frame handed to the consumer process. Its binary form
// is little endian:
//
//	version u32 | process_id u32 | width u32 | height u32 | data u64 |
//	data_size u32 | damage_x u32 | damage_y u32 | damage_w u32 | damage_h u32
//
// Version 1 stops after data_size.
type Record struct {
	Version   uint32
	ProcessID uint32
	Width     uint32
	Height    uint32
	Data      uint64
	DataSize  uint32
	Damage    image.Rectangle
}

// RecordSize returns the encoded size for version, or 0 if unknown.
func RecordSize(version uint32) int {
	switch version {
	case RecordV1:
		return recordV1Size
	case RecordV2:
		return recordV2Size
	default:
		return 0
	}
}

func (r Record) MarshalBinary() ([]byte, error) {
	size := RecordSize(r.Version)
	if size == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.Version)
	}
	buf := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], r.Version)
	le.PutUint32(buf[4:], r.ProcessID)
	le.PutUint32(buf[8:], r.Width)
	le.PutUint32(buf[12:], r.Height)
	le.PutUint64(buf[16:], r.Data)
	le.PutUint32(buf[24:], r.DataSize)
	if r.Version == RecordV2 {
		le.PutUint32(buf[28:], uint32(r.Damage.Min.X))
		le.PutUint32(buf[32:], uint32(r.Damage.Min.Y))
		le.PutUint32(buf[36:], uint32(r.Damage.Dx()))
		le.PutUint32(buf[40:], uint32(r.Damage.Dy()))
	}
	return buf, nil
}

func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return ErrShortRecord
	}
	le := binary.LittleEndian
	version := le.Uint32(data)
	size := RecordSize(version)
	if size == 0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if len(data) < size {
		return fmt.Errorf("%w: %d bytes, version %d needs %d", ErrShortRecord, len(data), version, size)
	}
	*r = Record{
		Version:   version,
		ProcessID: le.Uint32(data[4:]),
		Width:     le.Uint32(data[8:]),
		Height:    le.Uint32(data[12:]),
		Data:      le.Uint64(data[16:]),
		DataSize:  le.Uint32(data[24:]),
	}
	if version == RecordV2 {
		x := int(le.Uint32(data[28:]))
		y := int(le.Uint32(data[32:]))
		w := int(le.Uint32(data[36:]))
		h := int(le.Uint32(data[40:]))
		r.Damage = image.Rect(x, y, x+w, y+h)
	}
	return nil
}
