package devicepack

import (
	"fmt"

	"github.com/notargets/gocca"
	"github.com/rs/zerolog/log"
)

// CreateTestDevice creates a Device for testing, preferring parallel backends
func CreateTestDevice() *gocca.OCCADevice {
	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}
	device, err := CreateDevice(backends...)
	if err != nil {
		panic(err)
	}
	return device
}

// CreateDevice returns the first device that can be created from the given
// OCCA property strings
func CreateDevice(backends ...string) (*gocca.OCCADevice, error) {
	var lastErr error
	for _, props := range backends {
		device, err := gocca.NewDevice(props)
		if err == nil {
			log.Debug().Str("mode", device.Mode()).Msg("created device")
			return device, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no OCCA backend available from %v: %w", backends, lastErr)
}
