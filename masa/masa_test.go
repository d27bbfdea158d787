package masa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, baseURL string, optFns ...func(o *Options)) *Client {
	t.Helper()

	optFns = append([]func(o *Options){
		WithBaseURL(baseURL),
		WithPollInterval(time.Millisecond),
		WithMaxPollAttempts(5),
	}, optFns...)

	client, err := New("test-key", optFns...)
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// -------------------- Client Construction Tests --------------------

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}

// -------------------- Search Tests --------------------

func TestClientSearchFlow(t *testing.T) {
	var statusCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/search/live/twitter", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "bitcoin", payload["query"])
		assert.Equal(t, float64(10), payload["max_results"])

		writeJSON(t, w, map[string]string{"uuid": "job-1"})
	})
	mux.HandleFunc("GET /api/v1/search/live/twitter/status/job-1", func(w http.ResponseWriter, r *http.Request) {
		status := StatusProcessing
		if statusCalls.Add(1) > 2 {
			status = StatusDone
		}

		writeJSON(t, w, map[string]string{"status": status})
	})
	mux.HandleFunc("GET /api/v1/search/live/twitter/result/job-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]string{
			{"Content": "btc to the moon"},
			{"Content": "selling everything"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newClient(t, srv.URL)

	tweets, err := client.Search(context.Background(), "bitcoin", 10)
	require.NoError(t, err)

	require.Len(t, tweets, 2)
	assert.Equal(t, "btc to the moon", tweets[0].Content)
	assert.Equal(t, "selling everything", tweets[1].Content)
	assert.Equal(t, int32(3), statusCalls.Load())
}

func TestClientSendsAuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		writeJSON(t, w, map[string]string{"uuid": "job-1"})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	_, err := client.SubmitSearch(context.Background(), "bitcoin", 10)
	require.NoError(t, err)
}

func TestSubmitSearchMissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	_, err := client.SubmitSearch(context.Background(), "bitcoin", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job id returned")
}

func TestWaitForSearchGivesUpAfterMaxAttempts(t *testing.T) {
	var statusCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		statusCalls.Add(1)
		writeJSON(t, w, map[string]string{"status": StatusProcessing})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, WithMaxPollAttempts(3))

	err := client.WaitForSearch(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `search job "job-1" did not complete after 3 attempts`)
	assert.Equal(t, int32(3), statusCalls.Load())
}

func TestWaitForSearchFailsFastOnJobError(t *testing.T) {
	var statusCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		statusCalls.Add(1)
		writeJSON(t, w, map[string]string{"status": StatusError})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	err := client.WaitForSearch(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `search job "job-1" failed`)
	assert.Equal(t, int32(1), statusCalls.Load())
}

func TestWaitForSearchHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{"status": StatusProcessing})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL, WithPollInterval(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.WaitForSearch(ctx, "job-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// -------------------- Analysis Tests --------------------

func TestClientAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "btc to the moon", payload["tweets"])
		assert.Equal(t, "What is the mood?", payload["prompt"])

		writeJSON(t, w, map[string]string{"result": "overwhelmingly bullish"})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	analysis, err := client.Analyze(context.Background(), "btc to the moon", "What is the mood?")
	require.NoError(t, err)
	assert.Equal(t, "overwhelmingly bullish", analysis)
}

func TestClientAnalyzeFallbackField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{"analysis": "mostly bearish"})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	analysis, err := client.Analyze(context.Background(), "tweets", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "mostly bearish", analysis)
}

func TestClientAnalyzeEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]string{})
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	_, err := client.Analyze(context.Background(), "tweets", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no analysis returned")
}

// -------------------- Error Handling Tests --------------------

func TestClientSurfacesErrorStatusWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	_, err := client.SubmitSearch(context.Background(), "bitcoin", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestClientSurfacesErrorStatusWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)

	_, err := client.SearchStatus(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), http.StatusText(http.StatusBadGateway))
}

// -------------------- Helper Tests --------------------

func TestJoinTweets(t *testing.T) {
	blob := JoinTweets([]Tweet{
		{Content: "first"},
		{Content: "second"},
	})
	assert.Equal(t, "first\nsecond", blob)

	assert.Equal(t, "", JoinTweets(nil))
}
