package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/anchorqueue"
)

func TestSubmitRejectedWhenNotActive(t *testing.T) {
	p := New(nil, 2, time.Millisecond, zap.NewNop())
	err := p.Submit(context.Background(), anchorqueue.Job{OutboxID: "o1"})
	require.Error(t, err)
}

func TestSubmitAcceptedWhenActive(t *testing.T) {
	p := New(nil, 2, time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Mark the pool running by hand instead of calling Start, so no consumer
	// picks the job up and touches the nil outbox store; only the
	// channel-acceptance contract is asserted here, not the runJob state
	// machine.
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	err := p.Submit(ctx, anchorqueue.Job{OutboxID: "o1"})
	require.NoError(t, err)
	require.Len(t, p.jobs, 1)
}

func TestActiveReflectsRunningState(t *testing.T) {
	p := New(nil, 2, time.Millisecond, zap.NewNop())
	require.False(t, p.Active())
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	require.True(t, p.Active())
}
