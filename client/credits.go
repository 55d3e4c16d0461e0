package client

import (
	"context"
	"sync"
)

// creditPool tracks the credits granted by the server. granted is the
// current balance, inUse the part of it charged to requests still waiting
// for their final response. inUse never exceeds granted.
type creditPool struct {
	mu      sync.Mutex
	granted uint32
	inUse   uint32
	target  uint32
	err     error         // set on teardown
	wake    chan struct{} // closed and replaced on every release
}

func newCreditPool(initial, target uint16) *creditPool {
	return &creditPool{
		granted: uint32(initial),
		target:  uint32(max(target, 1)),
		wake:    make(chan struct{}),
	}
}

// Acquire takes up to want credits, at least one. It blocks while none are
// available and fails with ErrNoCredits when nothing is in flight that
// could bring more.
func (p *creditPool) Acquire(ctx context.Context, want uint16) (uint16, error) {
	want = max(want, 1)
	for {
		p.mu.Lock()
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return 0, err
		}
		if avail := p.granted - p.inUse; avail > 0 {
			n := min(uint32(want), avail)
			p.inUse += n
			p.mu.Unlock()
			return uint16(n), nil
		}
		if p.inUse == 0 {
			p.mu.Unlock()
			return 0, ErrNoCredits
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Return settles a final response: the charge is consumed and the grant
// is added to the balance.
func (p *creditPool) Return(charge, grant uint16) {
	p.mu.Lock()
	c := min(uint32(charge), p.inUse)
	p.inUse -= c
	p.granted = p.granted - c + uint32(grant)
	p.signal()
	p.mu.Unlock()
}

// Grant adds credits from an interim response.
func (p *creditPool) Grant(grant uint16) {
	if grant == 0 {
		return
	}
	p.mu.Lock()
	p.granted += uint32(grant)
	p.signal()
	p.mu.Unlock()
}

// Release gives back credits acquired for a request that never hit the wire.
func (p *creditPool) Release(n uint16) {
	p.mu.Lock()
	p.inUse -= min(uint32(n), p.inUse)
	p.signal()
	p.mu.Unlock()
}

// Request returns the CreditRequest for a request of the given charge:
// enough to bring the balance back to the target.
func (p *creditPool) Request(charge uint16) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	want := int64(p.target) - int64(p.granted) + int64(charge)
	want = max(want, int64(charge), 1)
	return uint16(min(want, 0xffff))
}

// Available returns the credits not charged to any request.
func (p *creditPool) Available() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted - p.inUse
}

func (p *creditPool) close(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
		p.signal()
	}
	p.mu.Unlock()
}

// signal wakes every waiter. Callers hold p.mu.
func (p *creditPool) signal() {
	close(p.wake)
	p.wake = make(chan struct{})
}
