package relayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"factcheck-relay/internal/model"

	"github.com/stretchr/testify/require"
)

func TestClient_Poll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/get-message", r.URL.Path)
		require.Equal(t, "session_1_abc", r.URL.Query().Get("sessionId"))
		_, _ = w.Write([]byte(`{"success":true,"hasMessage":true,"message":{"type":"A","header":"h","content":"c"},"isComplete":false}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "", time.Second)
	res, err := c.Poll(context.Background(), "session_1_abc")
	require.NoError(t, err)
	require.True(t, res.HasMessage)
	require.Equal(t, &model.MessagePayload{Type: "A", Header: "h", Content: "c"}, res.Message)
	require.False(t, *res.IsComplete)
}

func TestClient_PollNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second).Poll(context.Background(), "s")
	require.Error(t, err)
}

func TestClient_Trigger(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "accepted", status: http.StatusOK, body: `{"success":true}`},
		{name: "rejected", status: http.StatusOK, body: `{"success":false,"error":"busy"}`, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, body: `{}`, wantErr: true},
		{name: "garbage", status: http.StatusOK, body: `<html>`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req triggerRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Equal(t, "is the sky green?", req.Query)
				require.Equal(t, "s1", req.SessionID)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			err := New("", srv.URL, time.Second).Trigger(context.Background(), "is the sky green?", "s1")
			if tc.wantErr {
				require.ErrorIs(t, err, ErrTriggerFailed)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestClient_Push(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/receive-message", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "", time.Second).Push(context.Background(), "s1", model.MessagePayload{Type: "END", Header: "h", Content: "c"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"sessionId": "s1", "type": "END", "header": "h", "content": "c"}, got)
}
