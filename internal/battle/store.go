package battle

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const ttlActive = 24 * time.Hour

// Store owns the Redis key layout for the battle subsystem. All state the
// stateless API processes share lives behind these keys.
type Store struct {
	rdb       *redis.Client
	resultTTL time.Duration
}

func NewStore(rdb *redis.Client, resultTTL time.Duration) *Store {
	if resultTTL <= 0 { resultTTL = time.Hour }
	return &Store{rdb: rdb, resultTTL: resultTTL}
}

func (s *Store) keyBattle(id string) string        { return "arena:battle:" + strings.TrimSpace(id) }
func (s *Store) keyRound(id string, n int) string  { return fmt.Sprintf("%s:round:%d", s.keyBattle(id), n) }
func (s *Store) keyLock(id string, n int) string   { return fmt.Sprintf("arena:lock:%s:%d", strings.TrimSpace(id), n) }
func (s *Store) keyInvite(code string) string      { return "arena:invite:" + strings.ToUpper(strings.TrimSpace(code)) }
func (s *Store) keyQueue() string                  { return "arena:queue" }
func (s *Store) keyMatch(user string) string       { return "arena:match:" + strings.TrimSpace(user) }
func (s *Store) keyUserIdx(user string) string     { return "arena:index:user:" + strings.TrimSpace(user) }
func (s *Store) keySeen(id, user string) string    { return fmt.Sprintf("%s:seen:%s", s.keyBattle(id), strings.TrimSpace(user)) }
func (s *Store) keyEvents(id string) string        { return "arena:events:" + strings.TrimSpace(id) }

// battleTTL keeps terminal battles around only for result display.
func (s *Store) battleTTL(b *Battle) time.Duration {
	if b.terminal() { return s.resultTTL }
	return ttlActive
}

func (s *Store) SaveBattle(ctx context.Context, b *Battle) error {
	raw, err := json.Marshal(b)
	if err != nil { return err }
	return s.rdb.Set(ctx, s.keyBattle(b.ID), raw, s.battleTTL(b)).Err()
}

func (s *Store) LoadBattle(ctx context.Context, id string) (*Battle, error) {
	raw, err := s.rdb.Get(ctx, s.keyBattle(id)).Bytes()
	if err == redis.Nil { return nil, nil }
	if err != nil { return nil, err }
	var b Battle
	if err := json.Unmarshal(raw, &b); err != nil { return nil, err }
	return &b, nil
}

// SaveRoundNX creates the round record only if absent; the losing creator
// re-reads the winner's record so both players see one question.
func (s *Store) SaveRoundNX(ctx context.Context, battleID string, rq *RoundQuestion) (bool, error) {
	raw, err := json.Marshal(rq)
	if err != nil { return false, err }
	return s.rdb.SetNX(ctx, s.keyRound(battleID, rq.Round), raw, ttlActive).Result()
}

func (s *Store) SaveRound(ctx context.Context, battleID string, rq *RoundQuestion) error {
	raw, err := json.Marshal(rq)
	if err != nil { return err }
	return s.rdb.Set(ctx, s.keyRound(battleID, rq.Round), raw, ttlActive).Err()
}

func (s *Store) LoadRound(ctx context.Context, battleID string, round int) (*RoundQuestion, error) {
	raw, err := s.rdb.Get(ctx, s.keyRound(battleID, round)).Bytes()
	if err == redis.Nil { return nil, nil }
	if err != nil { return nil, err }
	var rq RoundQuestion
	if err := json.Unmarshal(raw, &rq); err != nil { return nil, err }
	return &rq, nil
}

func (s *Store) DeleteRound(ctx context.Context, battleID string, round int) error {
	return s.rdb.Del(ctx, s.keyRound(battleID, round)).Err()
}

// AcquireRoundLock is the mutual-exclusion marker for resolution. The TTL
// must stay below the round timeout so a crashed resolver cannot wedge the
// round past its own deadline. The returned token identifies the holder;
// release requires it.
func (s *Store) AcquireRoundLock(ctx context.Context, battleID string, round int, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, s.keyLock(battleID, round), token, ttl).Result()
	if err != nil || !ok { return "", ok, err }
	return token, true, nil
}

// ReleaseRoundLock deletes the lock only while token still owns it, so a
// resolver that outlived its TTL cannot free a successor's lock.
func (s *Store) ReleaseRoundLock(ctx context.Context, battleID string, round int, token string) {
	key := s.keyLock(battleID, round)
	_ = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		v, err := tx.Get(ctx, key).Result()
		if err != nil || v != token { return err }
		pipe := tx.TxPipeline()
		pipe.Del(ctx, key)
		_, perr := pipe.Exec(ctx)
		return perr
	}, key)
}

// Random-match queue.

func (s *Store) QueuePush(ctx context.Context, userID string) error {
	return s.rdb.RPush(ctx, s.keyQueue(), userID).Err()
}

func (s *Store) QueuePushFront(ctx context.Context, userID string) error {
	return s.rdb.LPush(ctx, s.keyQueue(), userID).Err()
}

func (s *Store) QueuePop(ctx context.Context) (string, error) {
	v, err := s.rdb.LPop(ctx, s.keyQueue()).Result()
	if err == redis.Nil { return "", nil }
	if err != nil { return "", err }
	return v, nil
}

// Match handoff for the side that was left waiting in the queue.

func (s *Store) SetMatch(ctx context.Context, userID, battleID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.keyMatch(userID), battleID, ttl).Err()
}

func (s *Store) TakeMatch(ctx context.Context, userID string) (string, error) {
	v, err := s.rdb.GetDel(ctx, s.keyMatch(userID)).Result()
	if err == redis.Nil { return "", nil }
	if err != nil { return "", err }
	return v, nil
}

// Invite codes.

// AllocateInvite mints a collision-checked code bound to battleID.
func (s *Store) AllocateInvite(ctx context.Context, battleID string, ttl time.Duration) (string, error) {
	for i := 0; i < 5; i++ {
		code, err := codeGen()
		if err != nil { return "", err }
		ok, err := s.rdb.SetNX(ctx, s.keyInvite(code), battleID, ttl).Result()
		if err != nil { return "", err }
		if ok { return code, nil }
	}
	return "", fmt.Errorf("failed to allocate invite code")
}

func (s *Store) ResolveInvite(ctx context.Context, code string) (string, error) {
	v, err := s.rdb.Get(ctx, s.keyInvite(code)).Result()
	if err == redis.Nil { return "", nil }
	if err != nil { return "", err }
	return v, nil
}

func (s *Store) DeleteInvite(ctx context.Context, code string) error {
	return s.rdb.Del(ctx, s.keyInvite(code)).Err()
}

// Per-user battle index so a client can rediscover its battle.

func (s *Store) IndexBattle(ctx context.Context, battleID string, userIDs ...string) error {
	for _, u := range userIDs {
		if strings.TrimSpace(u) == "" { continue }
		key := s.keyUserIdx(u)
		if err := s.rdb.SAdd(ctx, key, battleID).Err(); err != nil { return err }
		_ = s.rdb.Expire(ctx, key, ttlActive).Err()
	}
	return nil
}

func (s *Store) BattlesByUser(ctx context.Context, userID string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyUserIdx(userID)).Result()
}

// Last-seen markers live outside the battle record so refreshing them
// never races the lock-guarded writers of the aggregate.

func (s *Store) TouchSeen(ctx context.Context, battleID, userID string, at time.Time) {
	_ = s.rdb.Set(ctx, s.keySeen(battleID, userID), at.UnixMilli(), ttlActive).Err()
}

func (s *Store) LastSeen(ctx context.Context, battleID, userID string) (time.Time, bool) {
	v, err := s.rdb.Get(ctx, s.keySeen(battleID, userID)).Int64()
	if err != nil { return time.Time{}, false }
	return time.UnixMilli(v), true
}

// State-change events for subscribers.

func (s *Store) PublishEvent(ctx context.Context, battleID string) {
	_ = s.rdb.Publish(ctx, s.keyEvents(battleID), "update").Err()
}

func (s *Store) SubscribeEvents(ctx context.Context, battleID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, s.keyEvents(battleID))
}

// codeGen returns `AR-` + 6 upper alnum.
func codeGen() (string, error) {
	const letters = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return fmt.Sprintf("AR-%s", string(b)), nil
}
