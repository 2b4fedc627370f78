package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/calyx-catalog/calyx/internal/shared"
)

func TestIdentityFromHeadersSplitsGroups(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Auth-Request-User", " casey ")
	req.Header.Add("X-Auth-Request-Groups", "eng, ops")
	req.Header.Add("X-Auth-Request-Groups", "sec")

	ident := identityFromHeaders(req, nil)
	if ident.Principal != "casey" {
		t.Fatalf("principal = %q, want casey", ident.Principal)
	}
	if len(ident.Groups) != 3 || ident.Groups[0] != "eng" || ident.Groups[2] != "sec" {
		t.Fatalf("unexpected groups: %v", ident.Groups)
	}
}

func TestSessionCommitFailureIsLoggedNotFatal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	manager := shared.NewSessionManager(client, "calyx_session", []byte("test-secret"), time.Hour, false)

	req := httptest.NewRequest(http.MethodGet, "/vendors", nil)
	sess, err := manager.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("casey")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// The store goes away before the first byte is written.
	mr.Close()

	rec := httptest.NewRecorder()
	w := &responseWriterWithCommit{
		ResponseWriter: rec,
		sess:           sess,
		manager:        manager,
		ctx:            context.Background(),
		req:            req,
		logger:         logger,
	}
	w.WriteHeader(http.StatusNoContent)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if !strings.Contains(buf.String(), "session commit failed") {
		t.Fatalf("commit failure not logged, log output: %q", buf.String())
	}
}
