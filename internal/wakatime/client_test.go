package wakatime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepulse/heartbeat-importer/internal/importjob"
	"github.com/codepulse/heartbeat-importer/shared/logger"
)

func testServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestUserAgents(t *testing.T) {
	var gotAuth string
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/current/user_agents", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"a1","value":"Chrome/1"},{"id":"a2","value":"vscode/1.80"}]}`))
	})

	client := NewClient(srv.URL, "tok", time.Second, logger.NewDefault().Logger)

	agents, err := client.UserAgents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, agents, 2)
	assert.Equal(t, "a1", agents[0].ID)
	assert.Equal(t, "Chrome/1", agents[0].Value)
}

func TestHeartbeatsForDay(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/current/heartbeats", r.URL.Path)
		require.Equal(t, "2023-01-02", r.URL.Query().Get("date"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": [
				{
					"entity": "main.go",
					"project": "demo",
					"language": "Go",
					"is_write": true,
					"lineno": 12,
					"lines": 300,
					"user_agent_id": "a1",
					"type": "file",
					"time": 1672617600.25
				}
			],
			"start": "2023-01-02T00:00:00Z",
			"end": "2023-01-02T23:59:59Z",
			"timezone": "UTC"
		}`))
	})

	client := NewClient(srv.URL, "tok", time.Second, logger.NewDefault().Logger)

	day, err := importjob.ParseDate("2023-01-02")
	require.NoError(t, err)

	bucket, err := client.HeartbeatsForDay(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, "UTC", bucket.Timezone)
	require.Len(t, bucket.Data, 1)

	hb := bucket.Data[0]
	assert.Equal(t, "a1", hb.UserAgentID)
	assert.Equal(t, "file", hb.Type)
	assert.Equal(t, 1672617600.25, hb.Time)
	require.NotNil(t, hb.Entity)
	assert.Equal(t, "main.go", *hb.Entity)
	require.NotNil(t, hb.IsWrite)
	assert.True(t, *hb.IsWrite)
	assert.Nil(t, hb.Branch)
}

func TestNon2xxStatus(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	client := NewClient(srv.URL, "bad-token", time.Second, logger.NewDefault().Logger)

	_, err := client.UserAgents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 401")

	day, err := importjob.ParseDate("2023-01-02")
	require.NoError(t, err)

	_, err = client.HeartbeatsForDay(context.Background(), day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 401")
}

func TestMalformedBody(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	client := NewClient(srv.URL, "tok", time.Second, logger.NewDefault().Logger)

	_, err := client.UserAgents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode")
}
