package overlay

import "unsafe"

// C layouts passed to the consumer's entry point. Version 1 carries a size_t
// length; version 2 narrows it to uint32 and appends the damage rectangle.
type nativeRecordV1 struct {
	ProcessID uint32
	Width     uint32
	Height    uint32
	Data      uintptr
	Length    uintptr
}

type nativeRecordV2 struct {
	ProcessID uint32
	Width     uint32
	Height    uint32
	Data      uintptr
	DataSize  uint32
	DamageX   uint32
	DamageY   uint32
	DamageW   uint32
	DamageH   uint32
}

// call invokes fn with the record in its native layout. The struct stays
// reachable until fn returns.
func (r Record) call(fn SendFunc) bool {
	switch r.Version {
	case RecordV1:
		n := nativeRecordV1{
			ProcessID: r.ProcessID,
			Width:     r.Width,
			Height:    r.Height,
			Data:      uintptr(r.Data),
			Length:    uintptr(r.DataSize),
		}
		return fn(r.Version, unsafe.Pointer(&n))
	case RecordV2:
		n := nativeRecordV2{
			ProcessID: r.ProcessID,
			Width:     r.Width,
			Height:    r.Height,
			Data:      uintptr(r.Data),
			DataSize:  r.DataSize,
			DamageX:   uint32(r.Damage.Min.X),
			DamageY:   uint32(r.Damage.Min.Y),
			DamageW:   uint32(r.Damage.Dx()),
			DamageH:   uint32(r.Damage.Dy()),
		}
		return fn(r.Version, unsafe.Pointer(&n))
	default:
		return false
	}
}
