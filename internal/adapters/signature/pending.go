package signature

import (
	"context"
	"sync"

	"github.com/eleven-am/mesbatch/internal/domain"
)

// Pending is a single-assignment signature result. The first of resolve,
// reject or Cancel wins; later calls are ignored.
type Pending struct {
	id       string
	done     chan struct{}
	once     sync.Once
	sig      domain.Signature
	err      error
	onCancel func()
}

func newPending(id string) *Pending {
	return &Pending{
		id:   id,
		done: make(chan struct{}),
	}
}

func (p *Pending) ID() string {
	return p.id
}

func (p *Pending) resolve(sig domain.Signature) bool {
	return p.settle(sig, nil)
}

func (p *Pending) reject(err error) bool {
	return p.settle(domain.Signature{}, err)
}

func (p *Pending) settle(sig domain.Signature, err error) bool {
	settled := false
	p.once.Do(func() {
		p.sig = sig
		p.err = err
		settled = true
		close(p.done)
	})
	return settled
}

func (p *Pending) Await(ctx context.Context) (domain.Signature, error) {
	select {
	case <-p.done:
		return p.sig, p.err
	case <-ctx.Done():
		return domain.Signature{}, ctx.Err()
	}
}

// Cancel abandons the request. A signature arriving afterwards is discarded.
func (p *Pending) Cancel() {
	if p.reject(domain.ErrSignatureCancelled) && p.onCancel != nil {
		p.onCancel()
	}
}

// Done is closed once the request is settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}
