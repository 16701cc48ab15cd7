package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/chainclient"
	"github.com/rollupanchor/anchor/internal/events"
)

type fakeRegistry struct {
	result chainclient.TxResult
	err    error
	calls  int
}

func (f *fakeRegistry) SubmitCheckpoint(ctx context.Context, l2Root, daoStateRoot [32]byte, metadata string) (chainclient.TxResult, error) {
	f.calls++
	if f.err != nil {
		return chainclient.TxResult{}, f.err
	}
	return f.result, nil
}

func newService(reg Registry, gather Gatherer) *Service {
	return New(Config{CheckpointInterval: time.Hour}, reg, gather, events.New(), zap.NewNop())
}

func TestForceSubmitsAndIncrementsCheckpointNumber(t *testing.T) {
	reg := &fakeRegistry{result: chainclient.TxResult{TxHash: "0xabc"}}
	svc := newService(reg, nil)

	res1, err := svc.Force(context.Background(), [32]byte{1}, [32]byte{2})
	require.NoError(t, err)
	require.Equal(t, 1, res1.CheckpointNumber)
	require.Equal(t, "0xabc", res1.TxHash)

	res2, err := svc.Force(context.Background(), [32]byte{3}, [32]byte{4})
	require.NoError(t, err)
	require.Equal(t, 2, res2.CheckpointNumber)
	require.Equal(t, 2, reg.calls)
}

func TestSubmitGatherFailureSkipsSubmission(t *testing.T) {
	reg := &fakeRegistry{result: chainclient.TxResult{TxHash: "0xabc"}}
	gatherErr := errors.New("state root unavailable")
	svc := newService(reg, func(ctx context.Context) (Data, error) {
		return Data{}, gatherErr
	})

	_, err := svc.submit(context.Background(), svc.gather)
	require.Error(t, err)
	require.Equal(t, 0, reg.calls)
}

func TestStartTwiceIsNoopGuard(t *testing.T) {
	reg := &fakeRegistry{result: chainclient.TxResult{TxHash: "0xabc"}}
	svc := newService(reg, func(ctx context.Context) (Data, error) { return Data{}, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	require.True(t, svc.running)
	svc.Start(ctx)
	require.True(t, svc.running)
	svc.Stop()
	require.False(t, svc.running)
}
