// Package devicepack runs halo pack and unpack on an OCCA device.
//
// Runs are flattened into per-element index arrays, the same way the mesh
// scatter maps were flattened for the DG kernels, and moved with one
// gather/scatter kernel: dst[dstIdx[i]] = src[srcIdx[i]].
package devicepack

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/notargets/LatticeHalo/expand"
	"github.com/notargets/gocca"
)

const blockSize = 256

var moveKernelSource = fmt.Sprintf(`
@kernel void haloMove(const int N,
                      const double *src,
                      const int *srcIdx,
                      double *dst,
                      const int *dstIdx) {
  for (int b = 0; b < (N + %[1]d - 1) / %[1]d; ++b; @outer) {
    for (int t = 0; t < %[1]d; ++t; @inner) {
      const int i = b * %[1]d + t;
      if (i < N) {
        dst[dstIdx[i]] = src[srcIdx[i]];
      }
    }
  }
}
`, blockSize)

// Packer implements expand.Packer[float64]. Calls are serialized, so one
// Packer may be shared by the nodes of a local world.
type Packer struct {
	mu     sync.Mutex
	device *gocca.OCCADevice
	move   *gocca.OCCAKernel
}

var _ expand.Packer[float64] = (*Packer)(nil)

// New compiles the move kernel on device. The caller keeps ownership of
// the device.
func New(device *gocca.OCCADevice) (*Packer, error) {
	var kernel *gocca.OCCAKernel
	var err error
	if device.Mode() == "OpenMP" {
		// OpenMP does not get -O3 by default
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = device.BuildKernelFromString(moveKernelSource, "haloMove", props)
	} else {
		kernel, err = device.BuildKernelFromString(moveKernelSource, "haloMove", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel haloMove on %s: %w", device.Mode(), err)
	}
	return &Packer{device: device, move: kernel}, nil
}

func (p *Packer) Free() {
	if p.move != nil {
		p.move.Free()
		p.move = nil
	}
}

func (p *Packer) Pack(buf, data []float64, runs []expand.CommPackInfo) error {
	bufIdx, dataIdx, err := flatten(runs, len(buf), len(data))
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}
	return p.run(buf, bufIdx, data, dataIdx)
}

func (p *Packer) Unpack(data, buf []float64, runs []expand.CommPackInfo) error {
	bufIdx, dataIdx, err := flatten(runs, len(buf), len(data))
	if err != nil {
		return fmt.Errorf("unpack: %w", err)
	}
	return p.run(data, dataIdx, buf, bufIdx)
}

// flatten expands runs into element indices of the buffer and the field
func flatten(runs []expand.CommPackInfo, bufLen, dataLen int) (bufIdx, dataIdx []int32, err error) {
	for i, r := range runs {
		if r.Size < 0 || r.BufferIdx < 0 || r.BufferIdx+r.Size > bufLen {
			return nil, nil, fmt.Errorf("run %d %+v outside buffer of %d elements", i, r, bufLen)
		}
		if r.Offset < 0 || r.Offset+r.Size > dataLen {
			return nil, nil, fmt.Errorf("run %d %+v outside field of %d elements", i, r, dataLen)
		}
		for k := 0; k < r.Size; k++ {
			bufIdx = append(bufIdx, int32(r.BufferIdx+k))
			dataIdx = append(dataIdx, int32(r.Offset+k))
		}
	}
	return bufIdx, dataIdx, nil
}

// run copies src[srcIdx[i]] to dst[dstIdx[i]] on the device
func (p *Packer) run(dst []float64, dstIdx []int32, src []float64, srcIdx []int32) error {
	n := len(dstIdx)
	if n == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.move == nil {
		return fmt.Errorf("device packer used after Free")
	}

	srcMem := p.device.Malloc(int64(len(src)*8), unsafe.Pointer(&src[0]), nil)
	defer srcMem.Free()
	srcIdxMem := p.device.Malloc(int64(n*4), unsafe.Pointer(&srcIdx[0]), nil)
	defer srcIdxMem.Free()
	// dst is copied in so elements outside the runs survive the copy back
	dstMem := p.device.Malloc(int64(len(dst)*8), unsafe.Pointer(&dst[0]), nil)
	defer dstMem.Free()
	dstIdxMem := p.device.Malloc(int64(n*4), unsafe.Pointer(&dstIdx[0]), nil)
	defer dstIdxMem.Free()

	if err := p.move.RunWithArgs(int32(n), srcMem, srcIdxMem, dstMem, dstIdxMem); err != nil {
		return fmt.Errorf("haloMove on %s: %w", p.device.Mode(), err)
	}
	p.device.Finish()
	dstMem.CopyTo(unsafe.Pointer(&dst[0]), int64(len(dst)*8))
	return nil
}
