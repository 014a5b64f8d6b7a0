package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepulse/heartbeat-importer/internal/api/dto"
	"github.com/codepulse/heartbeat-importer/internal/identity"
	"github.com/codepulse/heartbeat-importer/internal/importjob"
	"github.com/codepulse/heartbeat-importer/shared/logger"
)

type fakeQueue struct {
	enqueued    []importjob.Fingerprint
	deleted     []importjob.Fingerprint
	deleteCount int64
	status      importjob.Status
	enqueueErr  error
	statusErr   error
}

func (f *fakeQueue) Enqueue(ctx context.Context, fp importjob.Fingerprint) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, fp)
	return nil
}

func (f *fakeQueue) DeleteMatching(ctx context.Context, fp importjob.Fingerprint) (int64, error) {
	f.deleted = append(f.deleted, fp)
	return f.deleteCount, nil
}

func (f *fakeQueue) StatusOf(ctx context.Context, fp importjob.Fingerprint) (importjob.Status, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.status, nil
}

type fakeNotifier struct {
	woken []importjob.Fingerprint
	err   error
}

func (f *fakeNotifier) Wake(ctx context.Context, fp importjob.Fingerprint) error {
	if f.err != nil {
		return f.err
	}
	f.woken = append(f.woken, fp)
	return nil
}

type fakeResolver struct {
	users map[string]string
}

func (f *fakeResolver) ResolveToken(ctx context.Context, credential string) (string, error) {
	if user, ok := f.users[credential]; ok {
		return user, nil
	}
	return "", identity.ErrUnknownToken
}

func newTestRouter(q *fakeQueue, n *fakeNotifier) *gin.Engine {
	gin.SetMode(gin.TestMode)

	deps := &Dependencies{
		Logger:   logger.NewDefault().Logger,
		Queue:    q,
		Notifier: n,
		Identity: &fakeResolver{users: map[string]string{"tok": "user-1"}},
	}
	h := NewImportHandler(deps)

	r := gin.New()
	r.POST("/api/v1/imports", h.SubmitImport)
	r.POST("/api/v1/imports/status", h.ImportStatus)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const validBody = `{"api_token":"tok","start_date":"2023-01-01","end_date":"2023-01-03"}`

func TestSubmitImport(t *testing.T) {
	q := &fakeQueue{deleteCount: 1}
	n := &fakeNotifier{}
	r := newTestRouter(q, n)

	w := doRequest(t, r, "/api/v1/imports", validBody)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ImportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "submitted", resp.JobStatus)

	// Dedup delete happens before the fresh enqueue
	require.Len(t, q.deleted, 1)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, q.deleted[0], q.enqueued[0])

	fp := q.enqueued[0]
	assert.Equal(t, "user-1", fp.Requester)
	assert.Equal(t, "tok", fp.Request.APIToken)
	assert.Equal(t, "2023-01-01", fp.Request.StartDate.String())
	assert.Equal(t, "2023-01-03", fp.Request.EndDate.String())

	require.Len(t, n.woken, 1)
}

func TestSubmitImportNotifyFailureStillSubmits(t *testing.T) {
	q := &fakeQueue{}
	n := &fakeNotifier{err: errors.New("broker down")}
	r := newTestRouter(q, n)

	w := doRequest(t, r, "/api/v1/imports", validBody)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, q.enqueued, 1, "the durable enqueue already happened")
}

func TestSubmitImportEnqueueFailure(t *testing.T) {
	q := &fakeQueue{enqueueErr: importjob.ErrConnection}
	r := newTestRouter(q, &fakeNotifier{})

	w := doRequest(t, r, "/api/v1/imports", validBody)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "job_status")
}

func TestMissingToken(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"submit endpoint", "/api/v1/imports"},
		{"status endpoint", "/api/v1/imports/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{status: importjob.StatusFinished}
			r := newTestRouter(q, &fakeNotifier{})

			w := doRequest(t, r, tt.path, `{"start_date":"2023-01-01","end_date":"2023-01-03"}`)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotContains(t, w.Body.String(), "job_status",
				"a missing credential must never yield a job-status response")
			assert.Empty(t, q.enqueued)
		})
	}
}

func TestUnknownToken(t *testing.T) {
	q := &fakeQueue{}
	r := newTestRouter(q, &fakeNotifier{})

	w := doRequest(t, r, "/api/v1/imports", `{"api_token":"wrong","start_date":"2023-01-01","end_date":"2023-01-03"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, q.enqueued)
}

func TestInvalidDates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad start", `{"api_token":"tok","start_date":"not-a-date","end_date":"2023-01-03"}`},
		{"bad end", `{"api_token":"tok","start_date":"2023-01-01","end_date":"03/01/2023"}`},
		{"missing dates", `{"api_token":"tok"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			r := newTestRouter(q, &fakeNotifier{})

			w := doRequest(t, r, "/api/v1/imports", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, q.enqueued)
		})
	}
}

func TestImportStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     importjob.Status
		wantStatus string
	}{
		{"finished when no row", importjob.StatusFinished, "finished"},
		{"pending while queued", importjob.StatusPending, "pending"},
		{"failed after budget", importjob.StatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{status: tt.status}
			r := newTestRouter(q, &fakeNotifier{})

			w := doRequest(t, r, "/api/v1/imports/status", validBody)

			require.Equal(t, http.StatusOK, w.Code)

			var resp dto.ImportResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.JobStatus)
			assert.Empty(t, q.enqueued, "status checks must not enqueue")
		})
	}
}

func TestImportStatusIdempotent(t *testing.T) {
	q := &fakeQueue{status: importjob.StatusPending}
	r := newTestRouter(q, &fakeNotifier{})

	first := doRequest(t, r, "/api/v1/imports/status", validBody)
	second := doRequest(t, r, "/api/v1/imports/status", validBody)

	assert.Equal(t, first.Body.String(), second.Body.String())
}
