package expand

import (
	"fmt"
)

// Packer moves plan runs between field storage and a flat buffer.
// Pack copies data[r.Offset:] to buf[r.BufferIdx:] for every run, Unpack
// the reverse.
type Packer[M any] interface {
	Pack(buf, data []M, runs []CommPackInfo) error
	Unpack(data, buf []M, runs []CommPackInfo) error
}

// HostPacker copies runs with the builtin copy
type HostPacker[M any] struct{}

func (HostPacker[M]) Pack(buf, data []M, runs []CommPackInfo) error {
	for i, r := range runs {
		if err := checkRun(r, len(buf), len(data)); err != nil {
			return fmt.Errorf("pack run %d: %w", i, err)
		}
		copy(buf[r.BufferIdx:r.BufferIdx+r.Size], data[r.Offset:r.Offset+r.Size])
	}
	return nil
}

func (HostPacker[M]) Unpack(data, buf []M, runs []CommPackInfo) error {
	for i, r := range runs {
		if err := checkRun(r, len(buf), len(data)); err != nil {
			return fmt.Errorf("unpack run %d: %w", i, err)
		}
		copy(data[r.Offset:r.Offset+r.Size], buf[r.BufferIdx:r.BufferIdx+r.Size])
	}
	return nil
}

func checkRun(r CommPackInfo, bufLen, dataLen int) error {
	if r.Size < 0 || r.BufferIdx < 0 || r.BufferIdx+r.Size > bufLen {
		return fmt.Errorf("run %+v outside buffer of %d elements", r, bufLen)
	}
	if r.Offset < 0 || r.Offset+r.Size > dataLen {
		return fmt.Errorf("run %+v outside field of %d elements", r, dataLen)
	}
	return nil
}
