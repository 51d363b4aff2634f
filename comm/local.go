package comm

import (
	"errors"
	"fmt"
	"sync"
)

// LocalWorld runs a set of ranks inside one process, one goroutine each.
// It is the transport used by tests and the single-process benchmark.
type LocalWorld struct {
	comms []*LocalComm

	closeOnce sync.Once
}

// LocalComm is one rank's endpoint in a LocalWorld
type LocalComm struct {
	world   *LocalWorld
	rank    int
	mailbox *Mailbox
}

// NewLocalWorld creates size connected ranks
func NewLocalWorld(size int) *LocalWorld {
	if size < 1 {
		panic(fmt.Sprintf("local world needs at least one rank, got %d", size))
	}
	w := &LocalWorld{comms: make([]*LocalComm, size)}
	for r := range w.comms {
		w.comms[r] = &LocalComm{world: w, rank: r, mailbox: NewMailbox()}
	}
	return w
}

func (w *LocalWorld) Size() int {
	return len(w.comms)
}

// Comm returns the endpoint of rank
func (w *LocalWorld) Comm(rank int) *LocalComm {
	return w.comms[rank]
}

// Close fails every pending and future receive on every rank
func (w *LocalWorld) Close() {
	w.closeOnce.Do(func() {
		for _, c := range w.comms {
			c.mailbox.Close(ErrClosed)
		}
	})
}

// Run calls f concurrently for every rank and waits for all of them.
// When one rank fails (error or panic) the world is closed so the others
// unblock instead of waiting forever for the failed peer.
func (w *LocalWorld) Run(f func(c Comm) error) error {
	errs := make([]error, len(w.comms))
	var wg sync.WaitGroup
	for r, c := range w.comms {
		wg.Add(1)
		go func(r int, c *LocalComm) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					errs[r] = fmt.Errorf("rank %d panicked: %v", r, p)
					w.Close()
				}
			}()
			if err := f(c); err != nil {
				errs[r] = fmt.Errorf("rank %d: %w", r, err)
				w.Close()
			}
		}(r, c)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (c *LocalComm) Rank() int {
	return c.rank
}

func (c *LocalComm) Size() int {
	return len(c.world.comms)
}

func (c *LocalComm) Isend(dst, tag int, data []byte) *Request {
	if err := checkPeer(c, dst); err != nil {
		return Completed(Status{}, err)
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	c.world.comms[dst].mailbox.Deliver(c.rank, tag, payload)
	return Completed(Status{Source: c.rank, Tag: tag, Count: len(data)}, nil)
}

func (c *LocalComm) Irecv(src, tag int, buf []byte) *Request {
	if src != AnySource {
		if err := checkPeer(c, src); err != nil {
			return Completed(Status{}, err)
		}
	}
	return c.mailbox.Post(src, tag, buf)
}
