package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"factcheck-relay/internal/repository"
	"factcheck-relay/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(repo repository.SessionRepository) *gin.Engine {
	return NewRouter(service.NewRelayService(repo, time.Hour), repo)
}

func do(t *testing.T, r http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var got map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	}
	return rr, got
}

func enqueueBody(sessionID, typ, n string) string {
	b, _ := json.Marshal(map[string]string{
		"sessionId": sessionID,
		"type":      typ,
		"header":    "header " + n,
		"content":   "content " + n,
	})
	return string(b)
}

func TestRelayEndpoints_RoundTrip(t *testing.T) {
	r := newTestRouter(repository.NewMemorySessionRepository())

	rr, got := do(t, r, http.MethodPost, "/api/receive-message", enqueueBody("s1", "CLAIM", "1"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, got["success"])
	require.Equal(t, "Message received", got["message"])

	rr, _ = do(t, r, http.MethodPost, "/api/receive-message", enqueueBody("s1", "END", "2"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr, got = do(t, r, http.MethodGet, "/api/get-message?sessionId=s1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, got["hasMessage"])
	require.Equal(t, true, got["isComplete"])
	require.Equal(t, map[string]any{"type": "CLAIM", "header": "header 1", "content": "content 1"}, got["message"])

	// 两套路径共享同一个存储
	_, got = do(t, r, http.MethodGet, "/.netlify/functions/get-message?sessionId=s1", "")
	require.Equal(t, "END", got["message"].(map[string]any)["type"])

	_, got = do(t, r, http.MethodGet, "/api/get-message?sessionId=s1", "")
	require.Equal(t, false, got["hasMessage"])
	require.Equal(t, true, got["isComplete"])
	require.NotContains(t, got, "message")
}

func TestGetMessage_UnknownSessionOmitsIsComplete(t *testing.T) {
	r := newTestRouter(repository.NewMemorySessionRepository())
	rr, got := do(t, r, http.MethodGet, "/api/get-message?sessionId=nobody", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, map[string]any{"success": true, "hasMessage": false}, got)
}

func TestRelayEndpoints_Validation(t *testing.T) {
	repo := repository.NewMemorySessionRepository()
	r := newTestRouter(repo)

	rr, got := do(t, r, http.MethodGet, "/api/get-message", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "sessionId is required", got["error"])

	rr, got = do(t, r, http.MethodPost, "/api/receive-message", `{"type":"A","header":"h","content":"c"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "sessionId is required", got["error"])

	rr, _ = do(t, r, http.MethodPost, "/api/receive-message", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr, got = do(t, r, http.MethodPost, "/api/receive-message", `{"sessionId":"s1","type":"A","header":"h"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "type, header, and content are required", got["error"])

	rr, got = do(t, r, http.MethodPost, "/api/receive-message", `{"sessionId":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid request body", got["error"])

	rec, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestRelayEndpoints_MethodsAndCORS(t *testing.T) {
	r := newTestRouter(repository.NewMemorySessionRepository())

	rr, got := do(t, r, http.MethodGet, "/api/receive-message", "")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, "Method not allowed", got["error"])

	rr, _ = do(t, r, http.MethodDelete, "/api/get-message?sessionId=s1", "")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, "GET, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))

	rr, _ = do(t, r, http.MethodOptions, "/api/receive-message", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Zero(t, rr.Body.Len())
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	require.Equal(t, "Content-Type", rr.Header().Get("Access-Control-Allow-Headers"))
}

func TestRelayEndpoints_RemoteOutageFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	repo := repository.NewSessionRepository(rdb)
	r := newTestRouter(repo)

	mr.Close()

	rr, _ := do(t, r, http.MethodPost, "/api/receive-message", enqueueBody("s1", "CLAIM", "1"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr, got := do(t, r, http.MethodGet, "/api/get-message?sessionId=s1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, got["hasMessage"])

	_, health := do(t, r, http.MethodGet, "/healthz", "")
	require.Equal(t, "redis+memory", health["backend"])
}

func TestRelayEndpoints_MalformedRecordIs500(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, mr.Set("session:bad", "[]x"))
	r := newTestRouter(repository.NewSessionRepository(rdb))

	rr, got := do(t, r, http.MethodGet, "/api/get-message?sessionId=bad", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, got["error"], "malformed session record")
}
