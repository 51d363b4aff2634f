//go:build occa

package main

import (
	"github.com/notargets/LatticeHalo/devicepack"
	"github.com/notargets/LatticeHalo/expand"
)

// newDevicePacker compiles the pack kernel on the first available OCCA
// backend. One Packer serves every node of a local world.
func newDevicePacker() (expand.Packer[float64], func(), error) {
	device, err := devicepack.CreateDevice(
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "OpenMP"}`,
		`{"mode": "Serial"}`,
	)
	if err != nil {
		return nil, nil, err
	}
	p, err := devicepack.New(device)
	if err != nil {
		device.Free()
		return nil, nil, err
	}
	return p, func() {
		p.Free()
		device.Free()
	}, nil
}
