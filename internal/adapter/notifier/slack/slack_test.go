package slack

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotifyPostsWebhookPayload(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	err := New(srv.URL).Notify(t.Context(), "Stuck job detected", "job abc on coupang")
	require.NoError(t, err)
	require.Equal(t, "*Stuck job detected*\njob abc on coupang", body["text"])
}

func TestNotifyWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	err := New(srv.URL).Notify(t.Context(), "t", "m")
	require.ErrorContains(t, err, "500")
}

func TestNotifyNoopWithoutWebhook(t *testing.T) {
	require.NoError(t, New("").Notify(t.Context(), "t", "m"))
}
