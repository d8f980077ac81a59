package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/internal/progress"
)

func TestHTTPPosterSendsJSONWithBearerToken(t *testing.T) {
	t.Parallel()

	var (
		gotMethod  string
		gotPath    string
		gotType    string
		gotAuth    string
		gotPayload progress.Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	poster := NewHTTPPoster(srv.URL+"/progress", "s3cr3t", time.Second)
	evt := progress.Event{
		TaskID: "job-7",
		Status: progress.StatusUpdate,
		N:      progress.Float64(12),
	}
	require.NoError(t, poster.Post(context.Background(), evt))

	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/progress", gotPath)
	require.Equal(t, "application/json", gotType)
	require.Equal(t, "Bearer s3cr3t", gotAuth)
	require.Equal(t, "job-7", gotPayload.TaskID)
	require.Equal(t, progress.StatusUpdate, gotPayload.Status)
	require.NotNil(t, gotPayload.N)
	require.Equal(t, 12.0, *gotPayload.N)
}

func TestHTTPPosterOmitsAuthorizationWithoutToken(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	poster := NewHTTPPoster(srv.URL, "", time.Second)
	require.NoError(t, poster.Post(context.Background(), progress.Event{TaskID: "job-7"}))
	require.Empty(t, gotAuth)
}

func TestHTTPPosterRejectsNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	poster := NewHTTPPoster(srv.URL, "bad", time.Second)
	err := poster.Post(context.Background(), progress.Event{TaskID: "job-7"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestHTTPPosterHonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	poster := NewHTTPPoster(srv.URL, "", time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := poster.Post(ctx, progress.Event{TaskID: "job-7"})
	require.Error(t, err)
}
