//go:build !occa

package main

import (
	"errors"

	"github.com/notargets/LatticeHalo/expand"
)

var errNoDevice = errors.New("device packer unavailable: halobench was built without the occa tag")

func newDevicePacker() (expand.Packer[float64], func(), error) {
	return nil, nil, errNoDevice
}
