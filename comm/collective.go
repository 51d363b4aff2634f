package comm

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Tags reserved for collectives; point-to-point users must stay clear of them
const (
	TagReduce = 100
	TagBcast  = 101
	TagGather = 102
)

const root = 0

// AllReduceInt64 replaces vals on every rank by the element-wise sum over
// all ranks
func AllReduceInt64(c Comm, vals []int64) error {
	if c.Rank() == root {
		tmp := make([]int64, len(vals))
		for r := 0; r < c.Size(); r++ {
			if r == root {
				continue
			}
			if err := recvExact(c, r, TagReduce, AsBytes(tmp)); err != nil {
				return fmt.Errorf("all-reduce: %w", err)
			}
			for i := range vals {
				vals[i] += tmp[i]
			}
		}
	} else if err := Send(c, root, TagReduce, AsBytes(vals)); err != nil {
		return fmt.Errorf("all-reduce: %w", err)
	}
	return Bcast(c, AsBytes(vals), root)
}

// AllReduceFloat64 replaces vals on every rank by the element-wise sum over
// all ranks. Summation happens on rank 0 in rank order, so every rank sees
// bit-identical results.
func AllReduceFloat64(c Comm, vals []float64) error {
	if c.Rank() == root {
		tmp := make([]float64, len(vals))
		for r := 0; r < c.Size(); r++ {
			if r == root {
				continue
			}
			if err := recvExact(c, r, TagReduce, AsBytes(tmp)); err != nil {
				return fmt.Errorf("all-reduce: %w", err)
			}
			floats.Add(vals, tmp)
		}
	} else if err := Send(c, root, TagReduce, AsBytes(vals)); err != nil {
		return fmt.Errorf("all-reduce: %w", err)
	}
	return Bcast(c, AsBytes(vals), root)
}

// Barrier returns once every rank has entered it
func Barrier(c Comm) error {
	v := []int64{1}
	if err := AllReduceInt64(c, v); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	if v[0] != int64(c.Size()) {
		panic(fmt.Sprintf("barrier counted %d ranks, expected %d", v[0], c.Size()))
	}
	return nil
}

// Bcast copies buf from rank from into buf on every rank
func Bcast(c Comm, buf []byte, from int) error {
	if err := checkPeer(c, from); err != nil {
		return err
	}
	if c.Rank() != from {
		if err := recvExact(c, from, TagBcast, buf); err != nil {
			return fmt.Errorf("bcast: %w", err)
		}
		return nil
	}
	reqs := make([]*Request, 0, c.Size()-1)
	for r := 0; r < c.Size(); r++ {
		if r != from {
			reqs = append(reqs, c.Isend(r, TagBcast, buf))
		}
	}
	if err := WaitAll(reqs); err != nil {
		return fmt.Errorf("bcast: %w", err)
	}
	return nil
}

// AllGather concatenates send from every rank, in rank order, into recv.
// len(recv) must be Size()*len(send).
func AllGather(c Comm, recv, send []byte) error {
	n := len(send)
	if len(recv) != n*c.Size() {
		return fmt.Errorf("all-gather: recv holds %d bytes, need %d", len(recv), n*c.Size())
	}
	if c.Rank() == root {
		copy(recv[root*n:], send)
		for r := 0; r < c.Size(); r++ {
			if r == root {
				continue
			}
			if err := recvExact(c, r, TagGather, recv[r*n:(r+1)*n]); err != nil {
				return fmt.Errorf("all-gather: %w", err)
			}
		}
	} else if err := Send(c, root, TagGather, send); err != nil {
		return fmt.Errorf("all-gather: %w", err)
	}
	return Bcast(c, recv, root)
}

// recvExact receives into buf and requires the message to fill it
func recvExact(c Comm, src, tag int, buf []byte) error {
	st, err := Recv(c, src, tag, buf)
	if err != nil {
		return err
	}
	if st.Count != len(buf) {
		return fmt.Errorf("rank %d sent %d bytes on tag %d, expected %d", src, st.Count, tag, len(buf))
	}
	return nil
}
