package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/shared"
	_ "github.com/calyx-catalog/calyx/testing"
)

func newSessionManager(t *testing.T) *shared.SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return shared.NewSessionManager(redisClient, "test_session", []byte("secret"), time.Hour, false)
}

func commitAndCookie(t *testing.T, sm *shared.SessionManager, sess *shared.Session) *http.Cookie {
	t.Helper()
	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := sm.Commit(context.Background(), res, req, sess); err != nil {
		t.Fatalf("commit session: %v", err)
	}
	for _, c := range res.Result().Cookies() {
		if c.Name == sm.CookieName() {
			return c
		}
	}
	t.Fatalf("expected session cookie in response")
	return nil
}

func reload(t *testing.T, sm *shared.SessionManager, cookie *http.Cookie) *shared.Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return sess
}

func TestSessionRoundTrip(t *testing.T) {
	sm := newSessionManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("casey@calyx.local")
	sess.Set("theme", "dark")
	sess.StorePolicySnapshot(&authz.PolicySnapshot{
		Principal:     "casey@calyx.local",
		CapturedAt:    time.Now(),
		PolicyVersion: 7,
		TTL:           2 * time.Minute,
	})

	cookie := commitAndCookie(t, sm, sess)
	loaded := reload(t, sm, cookie)

	if loaded.User() != "casey@calyx.local" {
		t.Fatalf("expected user to survive reload, got %q", loaded.User())
	}
	if loaded.Get("theme") != "dark" {
		t.Fatalf("expected value bag to survive reload")
	}
	snap := loaded.PolicySnapshot()
	if snap == nil || snap.PolicyVersion != 7 {
		t.Fatalf("expected policy snapshot to survive reload, got %+v", snap)
	}
}

func TestRoleOverrideDropsSnapshot(t *testing.T) {
	sm := newSessionManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("casey@calyx.local")
	sess.StorePolicySnapshot(&authz.PolicySnapshot{Principal: "casey@calyx.local", PolicyVersion: 3})

	sess.SetRoleOverride("steward")
	if sess.PolicySnapshot() != nil {
		t.Fatalf("expected snapshot dropped when override set")
	}

	cookie := commitAndCookie(t, sm, sess)
	loaded := reload(t, sm, cookie)
	if loaded.RoleOverride() != "steward" {
		t.Fatalf("expected override to survive reload, got %q", loaded.RoleOverride())
	}
	if loaded.PolicySnapshot() != nil {
		t.Fatalf("expected no snapshot after override reload")
	}

	loaded.ClearRoleOverride()
	if loaded.RoleOverride() != "" {
		t.Fatalf("expected override cleared")
	}
}

func TestSessionDestroyExpiresCookie(t *testing.T) {
	sm := newSessionManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("casey@calyx.local")
	cookie := commitAndCookie(t, sm, sess)

	loaded := reload(t, sm, cookie)
	sm.Destroy(loaded)

	res := httptest.NewRecorder()
	if err := sm.Commit(context.Background(), res, req, loaded); err != nil {
		t.Fatalf("commit destroyed session: %v", err)
	}
	var cleared *http.Cookie
	for _, c := range res.Result().Cookies() {
		if c.Name == sm.CookieName() {
			cleared = c
		}
	}
	if cleared == nil || cleared.MaxAge != -1 {
		t.Fatalf("expected expiring cookie, got %+v", cleared)
	}

	again := reload(t, sm, cookie)
	if again.User() != "" {
		t.Fatalf("expected destroyed session state gone, got user %q", again.User())
	}
}

func TestFlashMessagesPopInOrder(t *testing.T) {
	sm := newSessionManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "first"})
	sess.AddFlash(shared.FlashMessage{Kind: "error", Message: "second"})

	msg := sess.PopFlash()
	if msg == nil || msg.Message != "first" {
		t.Fatalf("expected first flash, got %+v", msg)
	}
	msg = sess.PopFlash()
	if msg == nil || msg.Kind != "error" {
		t.Fatalf("expected second flash, got %+v", msg)
	}
	if sess.PopFlash() != nil {
		t.Fatalf("expected flashes drained")
	}
}
