package battle

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, time.Hour)
}

func TestStoreBattleRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.LoadBattle(ctx, "nope")
	if err != nil || missing != nil { t.Fatalf("expected nil battle, got %v/%v", missing, err) }

	b := &Battle{
		ID:           "b-1",
		Status:       StatusInProgress,
		Participants: []Participant{{UserID: "u1", HP: 3}, {UserID: "u2", HP: 3}},
		Round:        1,
		Domain:       "general",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.SaveBattle(ctx, b); err != nil { t.Fatalf("SaveBattle: %v", err) }
	got, err := s.LoadBattle(ctx, "b-1")
	if err != nil { t.Fatalf("LoadBattle: %v", err) }
	if got.Status != StatusInProgress || len(got.Participants) != 2 || got.Round != 1 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestStoreRoundCreatedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rq := &RoundQuestion{Round: 1, AskedAt: time.Now(), Answers: map[string]Submission{}}
	ok, err := s.SaveRoundNX(ctx, "b-1", rq)
	if err != nil || !ok { t.Fatalf("first SaveRoundNX: ok=%v err=%v", ok, err) }
	ok, err = s.SaveRoundNX(ctx, "b-1", rq)
	if err != nil { t.Fatalf("second SaveRoundNX: %v", err) }
	if ok { t.Fatalf("round record must be created once") }
}

func TestStoreRoundLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token, got, err := s.AcquireRoundLock(ctx, "b-1", 1, time.Second)
	if err != nil || !got { t.Fatalf("first acquire: got=%v err=%v", got, err) }
	if token == "" { t.Fatalf("expected a holder token") }
	_, got, err = s.AcquireRoundLock(ctx, "b-1", 1, time.Second)
	if err != nil { t.Fatalf("second acquire: %v", err) }
	if got { t.Fatalf("lock must be exclusive") }

	// a stale holder's token must not free the current lock
	s.ReleaseRoundLock(ctx, "b-1", 1, "stale-token")
	_, got, err = s.AcquireRoundLock(ctx, "b-1", 1, time.Second)
	if err != nil { t.Fatalf("acquire after bogus release: %v", err) }
	if got { t.Fatalf("release with a foreign token must be a no-op") }

	s.ReleaseRoundLock(ctx, "b-1", 1, token)
	next, got, err := s.AcquireRoundLock(ctx, "b-1", 1, time.Second)
	if err != nil || !got { t.Fatalf("acquire after release: got=%v err=%v", got, err) }
	if next == token { t.Fatalf("each acquisition must mint its own token") }
}

func TestStoreQueueOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if v, err := s.QueuePop(ctx); err != nil || v != "" {
		t.Fatalf("empty pop: %q/%v", v, err)
	}
	for _, u := range []string{"u1", "u2"} {
		if err := s.QueuePush(ctx, u); err != nil { t.Fatalf("push %s: %v", u, err) }
	}
	// a pushed-back player goes to the front, not the tail
	if err := s.QueuePushFront(ctx, "u0"); err != nil { t.Fatalf("push front: %v", err) }
	for _, want := range []string{"u0", "u1", "u2"} {
		got, err := s.QueuePop(ctx)
		if err != nil { t.Fatalf("pop: %v", err) }
		if got != want { t.Fatalf("expected %s, got %s", want, got) }
	}
}

func TestStoreMatchHandoffConsumedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetMatch(ctx, "u1", "b-1", time.Minute); err != nil { t.Fatalf("SetMatch: %v", err) }
	id, err := s.TakeMatch(ctx, "u1")
	if err != nil || id != "b-1" { t.Fatalf("TakeMatch: %q/%v", id, err) }
	id, err = s.TakeMatch(ctx, "u1")
	if err != nil { t.Fatalf("second TakeMatch: %v", err) }
	if id != "" { t.Fatalf("handoff must be consumed once, got %q", id) }
}

func TestStoreInviteCodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code, err := s.AllocateInvite(ctx, "b-1", time.Minute)
	if err != nil { t.Fatalf("AllocateInvite: %v", err) }
	if !strings.HasPrefix(code, "AR-") || len(code) != 9 {
		t.Fatalf("unexpected code shape %q", code)
	}

	// codes are case-insensitive on lookup
	id, err := s.ResolveInvite(ctx, strings.ToLower(code))
	if err != nil || id != "b-1" { t.Fatalf("ResolveInvite: %q/%v", id, err) }

	if err := s.DeleteInvite(ctx, code); err != nil { t.Fatalf("DeleteInvite: %v", err) }
	id, err = s.ResolveInvite(ctx, code)
	if err != nil { t.Fatalf("resolve after delete: %v", err) }
	if id != "" { t.Fatalf("deleted code must not resolve, got %q", id) }
}

func TestStoreSeenMarkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok := s.LastSeen(ctx, "b-1", "u1"); ok {
		t.Fatalf("expected no marker before touch")
	}
	at := time.Now().Truncate(time.Millisecond)
	s.TouchSeen(ctx, "b-1", "u1", at)
	seen, ok := s.LastSeen(ctx, "b-1", "u1")
	if !ok { t.Fatalf("expected marker after touch") }
	if !seen.Equal(at) { t.Fatalf("expected %v, got %v", at, seen) }
}
