package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)
}

// KnowledgeSweeper periodically deletes single-use knowledge bases that were
// never released, e.g. after a crash.
type KnowledgeSweeper struct {
	sweeper   Sweeper
	olderThan time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewKnowledgeSweeper(sweeper Sweeper, olderThan time.Duration) *KnowledgeSweeper {
	if olderThan <= 0 {
		olderThan = time.Hour
	}
	return &KnowledgeSweeper{
		sweeper:   sweeper,
		olderThan: olderThan,
		interval:  olderThan / 2,
	}
}

func (s *KnowledgeSweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(sweepCtx)
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				s.runOnce(sweepCtx)
			}
		}
	}()
}

func (s *KnowledgeSweeper) runOnce(ctx context.Context) {
	n, err := s.sweeper.Sweep(ctx, s.olderThan)
	if err != nil {
		log.Printf("knowledge sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("knowledge sweep removed %d stale knowledge bases", n)
	}
}

func (s *KnowledgeSweeper) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
