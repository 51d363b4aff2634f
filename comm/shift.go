package comm

import (
	"fmt"

	"github.com/notargets/LatticeHalo/lattice"
)

const (
	tagShiftDir   = 0
	tagShiftDirMu = 1
)

// GetDataDir shifts send one rank along the linear rank ring: with dir 0
// every rank receives the data of rank+1, with dir 1 that of rank-1.
func GetDataDir(c Comm, recv, send []byte, dir int) error {
	if len(recv) != len(send) {
		return fmt.Errorf("shift: recv %d bytes != send %d bytes", len(recv), len(send))
	}
	n := c.Size()
	from := (c.Rank() + 1 - 2*dir + n) % n
	to := (c.Rank() - 1 + 2*dir + n) % n
	return exchange(c, recv, send, from, to, tagShiftDir)
}

// GetDataDirMu shifts send one node along axis mu of the node grid: with
// dir 0 every node receives the data of its +mu neighbor, with dir 1 that
// of its -mu neighbor.
func GetDataDirMu(c Comm, nb lattice.NodeNeighbor, recv, send []byte, dir, mu int) error {
	if len(recv) != len(send) {
		return fmt.Errorf("shift: recv %d bytes != send %d bytes", len(recv), len(send))
	}
	from := nb.Dest[dir][mu]
	to := nb.Dest[1-dir][mu]
	return exchange(c, recv, send, from, to, tagShiftDirMu)
}

// GetDataPlusMu receives the data of the +mu neighbor
func GetDataPlusMu(c Comm, nb lattice.NodeNeighbor, recv, send []byte, mu int) error {
	return GetDataDirMu(c, nb, recv, send, 0, mu)
}

// GetDataMinusMu receives the data of the -mu neighbor
func GetDataMinusMu(c Comm, nb lattice.NodeNeighbor, recv, send []byte, mu int) error {
	return GetDataDirMu(c, nb, recv, send, 1, mu)
}

func exchange(c Comm, recv, send []byte, from, to, tag int) error {
	sreq := c.Isend(to, tag, send)
	if err := recvExact(c, from, tag, recv); err != nil {
		return fmt.Errorf("shift: %w", err)
	}
	if _, err := sreq.Wait(); err != nil {
		return fmt.Errorf("shift: %w", err)
	}
	return nil
}
