package token

import (
	"context"
	"sync"
	"time"

	"imi-storefront/internal/domain"
)

type memoryRepo struct {
	mu       sync.Mutex
	records  map[string]Record
	watchers map[chan string]struct{}
	now      func() time.Time
}

// NewMemory returns a process-local repository. Watchers see every write.
func NewMemory() Repository {
	return &memoryRepo{
		records:  map[string]Record{},
		watchers: map[chan string]struct{}{},
		now:      time.Now,
	}
}

func (r *memoryRepo) Get(_ context.Context, deviceID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[deviceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *memoryRepo) Put(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.records[rec.DeviceID]; ok && prev.Token == rec.Token && prev.Provider == rec.Provider {
		return nil
	}
	rec.UpdatedAt = r.now().UTC()
	r.records[rec.DeviceID] = rec
	r.notifyLocked(rec.DeviceID)
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[deviceID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, deviceID)
	r.notifyLocked(deviceID)
	return nil
}

func (r *memoryRepo) Watch(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 16)
	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watchers, ch)
		close(ch)
		r.mu.Unlock()
	}()
	return ch, nil
}

// notifyLocked never blocks; a full watcher misses the event and relies on polling.
func (r *memoryRepo) notifyLocked(deviceID string) {
	for ch := range r.watchers {
		select {
		case ch <- deviceID:
		default:
		}
	}
}
