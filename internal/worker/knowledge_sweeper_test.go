package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls     int32
	olderThan time.Duration
}

func (c *countingSweeper) Sweep(_ context.Context, olderThan time.Duration) (int, error) {
	atomic.AddInt32(&c.calls, 1)
	c.olderThan = olderThan
	return 1, nil
}

func TestKnowledgeSweeperRunsOnStartAndTicks(t *testing.T) {
	sw := &countingSweeper{}
	s := NewKnowledgeSweeper(sw, 20*time.Millisecond)
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&sw.calls) >= 3 }, time.Second, 5*time.Millisecond)
	s.Close()

	calls := atomic.LoadInt32(&sw.calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&sw.calls))
	assert.Equal(t, 20*time.Millisecond, sw.olderThan)
}
