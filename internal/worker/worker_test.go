package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepulse/heartbeat-importer/internal/importjob"
	"github.com/codepulse/heartbeat-importer/internal/queue"
	"github.com/codepulse/heartbeat-importer/shared/logger"
)

type fakeQueue struct {
	batches   [][]queue.Row
	claims    int
	completed []string
	released  []queue.Row
	relErrs   []error
	claimErr  error
}

func (f *fakeQueue) ClaimBatch(ctx context.Context, workerID string, batchSize int) ([]queue.Row, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if f.claims >= len(f.batches) {
		return nil, nil
	}
	rows := f.batches[f.claims]
	f.claims++
	return rows, nil
}

func (f *fakeQueue) Complete(ctx context.Context, rowID string) error {
	f.completed = append(f.completed, rowID)
	return nil
}

func (f *fakeQueue) Release(ctx context.Context, row queue.Row, procErr error) error {
	f.released = append(f.released, row)
	f.relErrs = append(f.relErrs, procErr)
	return nil
}

type fakeExecutor struct {
	runs [][][]byte
	errs map[string]error // keyed by payload
}

func (f *fakeExecutor) Run(ctx context.Context, payloads [][]byte) error {
	f.runs = append(f.runs, payloads)
	if len(payloads) == 1 {
		if err, ok := f.errs[string(payloads[0])]; ok {
			return err
		}
	}
	return nil
}

func newTestWorker(q JobQueue, e Executor) *Worker {
	return NewWorker(&Config{
		Logger:   logger.NewDefault().Logger,
		Queue:    q,
		Executor: e,
	})
}

func TestDrainProcessesUntilEmpty(t *testing.T) {
	q := &fakeQueue{
		batches: [][]queue.Row{
			{{ID: "row-1", Payload: "p1", RetryCount: 1}},
			{{ID: "row-2", Payload: "p2", RetryCount: 1}},
		},
	}
	e := &fakeExecutor{}
	w := newTestWorker(q, e)

	w.drain(context.Background())

	require.Len(t, e.runs, 2)
	assert.Equal(t, [][]byte{[]byte("p1")}, e.runs[0])
	assert.Equal(t, [][]byte{[]byte("p2")}, e.runs[1])
	assert.Equal(t, []string{"row-1", "row-2"}, q.completed)
	assert.Empty(t, q.released)
}

func TestDrainStopsOnClaimError(t *testing.T) {
	q := &fakeQueue{claimErr: errors.New("db down")}
	e := &fakeExecutor{}
	w := newTestWorker(q, e)

	w.drain(context.Background())

	assert.Empty(t, e.runs)
}

func TestProcessRowSuccessCompletes(t *testing.T) {
	q := &fakeQueue{}
	e := &fakeExecutor{}
	w := newTestWorker(q, e)

	w.processRow(context.Background(), queue.Row{ID: "row-1", Payload: "ok", RetryCount: 1})

	assert.Equal(t, []string{"row-1"}, q.completed)
	assert.Empty(t, q.released)
}

func TestProcessRowFailureReleases(t *testing.T) {
	execErr := fmt.Errorf("fetch blew up")
	q := &fakeQueue{}
	e := &fakeExecutor{errs: map[string]error{"bad": execErr}}
	w := newTestWorker(q, e)

	w.processRow(context.Background(), queue.Row{ID: "row-1", Payload: "bad", RetryCount: 2})

	assert.Empty(t, q.completed)
	require.Len(t, q.released, 1)
	assert.Equal(t, "row-1", q.released[0].ID)
	assert.Equal(t, execErr, q.relErrs[0])
}

func TestProcessRowMalformedPayloadReleases(t *testing.T) {
	q := &fakeQueue{}
	e := &fakeExecutor{errs: map[string]error{
		"garbage": fmt.Errorf("%w: nope", importjob.ErrMalformedPayload),
	}}
	w := newTestWorker(q, e)

	w.processRow(context.Background(), queue.Row{ID: "row-1", Payload: "garbage", RetryCount: 3})

	assert.Empty(t, q.completed)
	require.Len(t, q.released, 1)
	assert.ErrorIs(t, q.relErrs[0], importjob.ErrMalformedPayload)
}

func TestDrainRespectsCanceledContext(t *testing.T) {
	q := &fakeQueue{
		batches: [][]queue.Row{{{ID: "row-1", Payload: "p1"}}},
	}
	e := &fakeExecutor{}
	w := newTestWorker(q, e)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.drain(ctx)

	assert.Empty(t, e.runs)
}
