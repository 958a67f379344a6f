package knowledge

import (
	"context"
	"sync"
)

// StaticBase is a knowledge base over fixed documents, created on first use and
// shared afterwards. A failed creation is not remembered, so the next caller retries.
type StaticBase struct {
	prov Provisioner
	def  Definition

	mu       sync.Mutex
	handle   *Handle
	creating chan struct{} // closed when the in-flight creation ends
}

func NewStaticBase(prov Provisioner, def Definition) *StaticBase {
	return &StaticBase{prov: prov, def: def}
}

// Get returns the shared handle, creating it if needed. Concurrent callers wait
// for the in-flight creation, or for their own ctx, and receive the same handle.
func (b *StaticBase) Get(ctx context.Context) (Handle, error) {
	for {
		b.mu.Lock()
		if b.handle != nil {
			h := *b.handle
			b.mu.Unlock()
			return h, nil
		}
		if wait := b.creating; wait != nil {
			b.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return Handle{}, ctx.Err()
			}
		}
		done := make(chan struct{})
		b.creating = done
		b.mu.Unlock()

		h, err := b.prov.Create(ctx, b.def)

		b.mu.Lock()
		if err == nil {
			b.handle = &h
		}
		b.creating = nil
		close(done)
		b.mu.Unlock()
		if err != nil {
			return Handle{}, err
		}
		return h, nil
	}
}

func (b *StaticBase) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle != nil
}

// Close deletes the shared base if it was created. An in-flight creation is
// awaited first so its base is not left behind.
func (b *StaticBase) Close(ctx context.Context) error {
	for {
		b.mu.Lock()
		wait := b.creating
		if wait == nil {
			break
		}
		b.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer b.mu.Unlock()

	if b.handle == nil {
		return nil
	}
	h := *b.handle
	b.handle = nil
	return b.prov.Delete(ctx, h)
}
