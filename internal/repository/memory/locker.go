package memory

import (
	"context"
	"sync"

	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/domain"
	"github.com/ehsankhodayar/OUR-ACS-sub000/internal/optimizer"
)

// Ensure Locker implements optimizer.Locker
var _ optimizer.Locker = (*Locker)(nil)

// Locker serializes calls per datacenter within one process.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocker creates a new in-process locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryLock takes the datacenter lock or fails with domain.ErrDatacenterBusy.
func (l *Locker) TryLock(ctx context.Context, datacenterID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[datacenterID]; busy {
		return nil, domain.ErrDatacenterBusy
	}
	l.held[datacenterID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, datacenterID)
			l.mu.Unlock()
		})
	}, nil
}
