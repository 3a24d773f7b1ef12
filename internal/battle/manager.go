package battle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mkrph/quizarena/internal/economy"
	"github.com/mkrph/quizarena/internal/metrics"
	"github.com/mkrph/quizarena/internal/obslog"
	"github.com/mkrph/quizarena/internal/question"
)

// matchTTL bounds how long a queued player's match handoff key lives.
const matchTTL = 10 * time.Minute

// Settings are deployment-time policy, not protocol.
type Settings struct {
	EntryFeeXP     int
	StartingHP     int
	DamagePerRound int
	MaxRounds      int

	RoundTimeout   time.Duration
	CounterTimeout time.Duration
	LockTTL        time.Duration
	ResultTTL      time.Duration
	InviteTTL      time.Duration

	RefundOnAbandon bool
	Domain          string
}

func (s Settings) withDefaults() Settings {
	if s.EntryFeeXP <= 0 { s.EntryFeeXP = 10 }
	if s.StartingHP <= 0 { s.StartingHP = 3 }
	if s.DamagePerRound <= 0 { s.DamagePerRound = 1 }
	if s.MaxRounds <= 0 { s.MaxRounds = 10 }
	if s.RoundTimeout <= 0 { s.RoundTimeout = 30 * time.Second }
	if s.CounterTimeout <= 0 { s.CounterTimeout = 90 * time.Second }
	if s.LockTTL <= 0 || s.LockTTL >= s.RoundTimeout { s.LockTTL = 5 * time.Second }
	if s.ResultTTL <= 0 { s.ResultTTL = time.Hour }
	if s.InviteTTL <= 0 { s.InviteTTL = 10 * time.Minute }
	if strings.TrimSpace(s.Domain) == "" { s.Domain = "general" }
	return s
}

// Tracker receives per-answer mastery signals after a round commits. It is
// dispatched fire-and-forget and must never influence the battle result.
type Tracker interface {
	RoundResolved(ctx context.Context, battleID, userID, questionID string, correct bool) error
}

// Manager coordinates battles across any number of API processes; the
// Redis store is the only coordination point.
type Manager struct {
	rdb     *redis.Client
	store   *Store
	ledger  economy.Ledger
	gen     question.Generator
	set     Settings
	tracker Tracker

	now func() time.Time
}

func NewManager(rdb *redis.Client, ledger economy.Ledger, gen question.Generator, set Settings) *Manager {
	set = set.withDefaults()
	return &Manager{
		rdb:    rdb,
		store:  NewStore(rdb, set.ResultTTL),
		ledger: ledger,
		gen:    gen,
		set:    set,
		now:    time.Now,
	}
}

func (m *Manager) SetTracker(t Tracker) { m.tracker = t }

// SubscribeEvents exposes a battle's state-change channel for push
// transports; callers must Close the subscription.
func (m *Manager) SubscribeEvents(ctx context.Context, battleID string) *redis.PubSub {
	return m.store.SubscribeEvents(ctx, battleID)
}

// JoinQueue pairs the caller with a waiting player, or leaves the caller
// queued. The waiting side discovers its battle through the match handoff
// key on its next poll.
func (m *Manager) JoinQueue(ctx context.Context, userID string) (*JoinResult, error) {
	if strings.TrimSpace(userID) == "" { return nil, ErrInvalidArgs }

	if id, err := m.store.TakeMatch(ctx, userID); err != nil {
		return nil, err
	} else if id != "" {
		return &JoinResult{BattleID: id}, nil
	}

	for {
		opp, err := m.store.QueuePop(ctx)
		if err != nil { return nil, err }
		if opp == "" { break }
		if opp == userID { continue }

		if err := m.ledger.Debit(ctx, userID, m.set.EntryFeeXP, economy.ReasonEntryFee); err != nil {
			// caller cannot pay; put the opponent back where they were
			_ = m.store.QueuePushFront(ctx, opp)
			return nil, err
		}
		if err := m.ledger.Debit(ctx, opp, m.set.EntryFeeXP, economy.ReasonEntryFee); err != nil {
			_ = m.ledger.Credit(ctx, userID, m.set.EntryFeeXP, economy.ReasonRefund)
			if errors.Is(err, economy.ErrInsufficientBalance) {
				obslog.L().Warn("queue_opponent_dropped", zap.String("user_id", opp), zap.Error(err))
				continue
			}
			return nil, err
		}

		now := m.now()
		b := &Battle{
			ID:     uuid.NewString(),
			Status: StatusInProgress,
			Participants: []Participant{
				{UserID: opp, HP: m.set.StartingHP},
				{UserID: userID, HP: m.set.StartingHP},
			},
			Round:          1,
			Domain:         m.set.Domain,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		if err := m.store.SaveBattle(ctx, b); err != nil {
			_ = m.ledger.Credit(ctx, userID, m.set.EntryFeeXP, economy.ReasonRefund)
			_ = m.ledger.Credit(ctx, opp, m.set.EntryFeeXP, economy.ReasonRefund)
			return nil, err
		}
		_ = m.store.IndexBattle(ctx, b.ID, userID, opp)
		_ = m.store.SetMatch(ctx, opp, b.ID, matchTTL)
		m.store.PublishEvent(ctx, b.ID)
		metrics.BattlesStarted.Inc()
		obslog.L().Info("battle_create",
			zap.String("battle_id", b.ID),
			zap.String("source", "queue"),
			zap.String("user_a", opp),
			zap.String("user_b", userID),
		)
		return &JoinResult{BattleID: b.ID}, nil
	}

	if err := m.store.QueuePush(ctx, userID); err != nil { return nil, err }
	obslog.L().Info("queue_wait", zap.String("user_id", userID))
	return &JoinResult{Waiting: true}, nil
}

// CreateInvite mints a private battle with a single-use code. The entry
// fee is debited up front and comes back if the invite is never redeemed.
func (m *Manager) CreateInvite(ctx context.Context, userID string) (*InviteResult, error) {
	if strings.TrimSpace(userID) == "" { return nil, ErrInvalidArgs }
	if err := m.ledger.Debit(ctx, userID, m.set.EntryFeeXP, economy.ReasonEntryFee); err != nil {
		return nil, err
	}

	now := m.now()
	b := &Battle{
		ID:             uuid.NewString(),
		Status:         StatusWaiting,
		Participants:   []Participant{{UserID: userID, HP: m.set.StartingHP}},
		Domain:         m.set.Domain,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	code, err := m.store.AllocateInvite(ctx, b.ID, m.set.InviteTTL)
	if err != nil {
		_ = m.ledger.Credit(ctx, userID, m.set.EntryFeeXP, economy.ReasonRefund)
		return nil, err
	}
	b.InviteCode = code
	if err := m.store.SaveBattle(ctx, b); err != nil {
		_ = m.store.DeleteInvite(ctx, code)
		_ = m.ledger.Credit(ctx, userID, m.set.EntryFeeXP, economy.ReasonRefund)
		return nil, err
	}
	_ = m.store.IndexBattle(ctx, b.ID, userID)
	obslog.L().Info("battle_invite_create", zap.String("battle_id", b.ID), zap.String("code", code), zap.String("user_id", userID))
	return &InviteResult{BattleID: b.ID, Code: code}, nil
}

// RedeemInvite joins the second participant and starts the battle. The
// WATCH transaction makes the whole check-join-consume sequence atomic so
// two simultaneous redeemers cannot both succeed.
func (m *Manager) RedeemInvite(ctx context.Context, code, userID string) (*JoinResult, error) {
	code = strings.TrimSpace(code)
	if code == "" || strings.TrimSpace(userID) == "" { return nil, ErrInvalidArgs }

	battleID, err := m.store.ResolveInvite(ctx, code)
	if err != nil { return nil, err }
	if battleID == "" { return nil, ErrInviteNotFound }
	b, err := m.store.LoadBattle(ctx, battleID)
	if err != nil { return nil, err }
	if b == nil { return nil, ErrInviteNotFound }
	if b.Status != StatusWaiting { return nil, ErrInviteAlreadyUsed }
	if b.participant(userID) != nil { return nil, ErrInviteNotFound }

	if err := m.ledger.Debit(ctx, userID, m.set.EntryFeeXP, economy.ReasonEntryFee); err != nil {
		return nil, err
	}

	battleK := m.store.keyBattle(battleID)
	err = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, battleK).Bytes()
		if err == redis.Nil { return ErrInviteAlreadyUsed }
		if err != nil { return err }
		var cur Battle
		if jerr := json.Unmarshal(raw, &cur); jerr != nil { return jerr }
		if cur.Status != StatusWaiting { return ErrInviteAlreadyUsed }

		cur.Participants = append(cur.Participants, Participant{UserID: userID, HP: m.set.StartingHP})
		cur.Status = StatusInProgress
		cur.Round = 1
		cur.InviteCode = ""
		cur.LastActivityAt = m.now()

		pipe := tx.TxPipeline()
		newRaw, _ := json.Marshal(&cur)
		pipe.Set(ctx, battleK, newRaw, ttlActive)
		// the code stays resolvable so a late redeemer sees "already
		// used" instead of "not found"; it ages out with the result
		pipe.Set(ctx, m.store.keyInvite(code), battleID, m.store.resultTTL)
		_, perr := pipe.Exec(ctx)
		return perr
	}, battleK)
	if err != nil {
		_ = m.ledger.Credit(ctx, userID, m.set.EntryFeeXP, economy.ReasonRefund)
		if errors.Is(err, redis.TxFailedErr) || errors.Is(err, ErrInviteAlreadyUsed) {
			return nil, ErrInviteAlreadyUsed
		}
		return nil, err
	}

	_ = m.store.IndexBattle(ctx, battleID, userID)
	m.store.PublishEvent(ctx, battleID)
	metrics.BattlesStarted.Inc()
	obslog.L().Info("battle_create",
		zap.String("battle_id", battleID),
		zap.String("source", "invite"),
		zap.String("creator", b.Participants[0].UserID),
		zap.String("redeemer", userID),
	)
	return &JoinResult{BattleID: battleID}, nil
}

// GetState returns the caller's view of a battle. Deadlines and
// abandonment are enforced lazily here, on read, before the view is built.
func (m *Manager) GetState(ctx context.Context, battleID, userID string) (*StateView, error) {
	b, err := m.load(ctx, battleID)
	if err != nil { return nil, err }
	if b == nil { return nil, ErrBattleNotFound }
	if b.participant(userID) != nil {
		m.store.TouchSeen(ctx, b.ID, userID, m.now())
	}
	var rq *RoundQuestion
	if b.Status == StatusInProgress {
		if rq, err = m.ensureRound(ctx, b); err != nil { return nil, err }
	}
	return m.view(b, rq), nil
}

// ActiveBattleByUser finds the caller's most recent non-terminal battle.
func (m *Manager) ActiveBattleByUser(ctx context.Context, userID string) (*StateView, error) {
	ids, err := m.store.BattlesByUser(ctx, userID)
	if err != nil { return nil, err }
	var latest *Battle
	for _, id := range ids {
		b, lerr := m.load(ctx, id)
		if lerr != nil || b == nil || b.terminal() { continue }
		if latest == nil || b.LastActivityAt.After(latest.LastActivityAt) { latest = b }
	}
	if latest == nil { return nil, ErrBattleNotFound }
	var rq *RoundQuestion
	if latest.Status == StatusInProgress {
		if rq, err = m.ensureRound(ctx, latest); err != nil { return nil, err }
	}
	return m.view(latest, rq), nil
}

// SubmitAnswer records one participant's answer for the given round. At
// most one answer per participant per round; the second submission is a
// no-op that reports whatever the round's state is by then.
func (m *Manager) SubmitAnswer(ctx context.Context, battleID, userID string, round int, answer string) (*SubmitResult, error) {
	if strings.TrimSpace(battleID) == "" || strings.TrimSpace(userID) == "" { return nil, ErrInvalidArgs }

	b, err := m.load(ctx, battleID)
	if err != nil { return nil, err }
	if b == nil { return nil, ErrBattleNotFound }
	if b.participant(userID) == nil { return nil, ErrNotParticipant }
	m.store.TouchSeen(ctx, b.ID, userID, m.now())

	// idempotent replay of a round that already resolved
	if out := b.outcomeFor(round); out != nil {
		return &SubmitResult{Outcome: out, State: m.view(b, nil)}, nil
	}
	if b.Status != StatusInProgress { return nil, ErrRoundExpired }
	if round != b.Round { return nil, ErrRoundMismatch }

	rq, err := m.ensureRound(ctx, b)
	if err != nil { return nil, err }

	now := m.now()
	if now.Sub(rq.AskedAt) > m.set.RoundTimeout {
		nb, out, rerr := m.resolveRound(ctx, b, rq)
		if rerr != nil { return nil, rerr }
		if out != nil { return &SubmitResult{Outcome: out, State: m.view(nb, nil)}, nil }
		return nil, ErrRoundExpired
	}

	rq, err = m.recordAnswer(ctx, b, rq, userID, answer, now)
	if errors.Is(err, ErrRoundExpired) {
		// the round resolved and vanished under us; replay its outcome
		nb, lerr := m.store.LoadBattle(ctx, b.ID)
		if lerr != nil { return nil, lerr }
		if nb == nil { return nil, ErrBattleNotFound }
		if out := nb.outcomeFor(round); out != nil {
			return &SubmitResult{Outcome: out, State: m.view(nb, nil)}, nil
		}
		return nil, ErrRoundExpired
	}
	if err != nil { return nil, err }

	if len(rq.Answers) >= len(b.Participants) {
		nb, out, rerr := m.resolveRound(ctx, b, rq)
		if rerr != nil { return nil, rerr }
		if out != nil { return &SubmitResult{Outcome: out, State: m.view(nb, nil)}, nil }
		b = nb
	}
	return &SubmitResult{Pending: true, State: m.view(b, rq)}, nil
}

// recordAnswer appends under WATCH on the round key; first write wins per
// participant. Returns ErrRoundExpired when the round record is gone.
func (m *Manager) recordAnswer(ctx context.Context, b *Battle, rq *RoundQuestion, userID, answer string, at time.Time) (*RoundQuestion, error) {
	roundK := m.store.keyRound(b.ID, rq.Round)
	for attempt := 0; attempt < 16; attempt++ {
		var cur RoundQuestion
		err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, roundK).Bytes()
			if err == redis.Nil { return ErrRoundExpired }
			if err != nil { return err }
			if jerr := json.Unmarshal(raw, &cur); jerr != nil { return jerr }
			if _, dup := cur.Answers[userID]; dup { return nil }
			if cur.Answers == nil { cur.Answers = map[string]Submission{} }
			cur.Answers[userID] = Submission{Answer: answer, SubmittedAt: at}
			pipe := tx.TxPipeline()
			newRaw, _ := json.Marshal(&cur)
			pipe.Set(ctx, roundK, newRaw, ttlActive)
			_, perr := pipe.Exec(ctx)
			return perr
		}, roundK)
		if errors.Is(err, redis.TxFailedErr) { continue }
		if err != nil { return nil, err }
		return &cur, nil
	}
	return nil, redis.TxFailedErr
}

// Forfeit ends the battle immediately with the caller as loser.
func (m *Manager) Forfeit(ctx context.Context, battleID, userID string) (*StateView, error) {
	b, err := m.load(ctx, battleID)
	if err != nil { return nil, err }
	if b == nil { return nil, ErrBattleNotFound }
	if b.participant(userID) == nil { return nil, ErrNotParticipant }
	if b.terminal() { return m.view(b, nil), nil }

	opp := b.opponent(userID)
	if opp == nil {
		// unmatched invite battle; cancelling it behaves like expiry
		nb, terr := m.terminate(ctx, b, StatusAbandoned, EndExpired, "")
		if terr != nil { return nil, terr }
		return m.view(nb, nil), nil
	}
	nb, terr := m.terminate(ctx, b, StatusCompleted, EndForfeit, opp.UserID)
	if terr != nil { return nil, terr }
	obslog.L().Info("battle_forfeit", zap.String("battle_id", battleID), zap.String("user_id", userID))
	return m.view(nb, nil), nil
}

// load fetches the battle and applies the lazy monitors: corruption,
// invite expiry, abandonment, stale-round resolution.
func (m *Manager) load(ctx context.Context, battleID string) (*Battle, error) {
	b, err := m.store.LoadBattle(ctx, battleID)
	if err != nil || b == nil { return b, err }
	return m.housekeep(ctx, b)
}

func (m *Manager) housekeep(ctx context.Context, b *Battle) (*Battle, error) {
	if b.terminal() { return b, nil }
	now := m.now()

	// malformed state is corruption: force the terminal state rather than
	// let an inconsistent battle continue
	if b.Status == StatusInProgress && len(b.Participants) != 2 {
		obslog.L().Error("battle_corrupt", zap.String("battle_id", b.ID), zap.Int("participants", len(b.Participants)))
		return m.terminate(ctx, b, StatusAbandoned, EndCorrupt, "")
	}

	if b.Status == StatusWaiting {
		if now.Sub(b.CreatedAt) > m.set.InviteTTL {
			return m.terminate(ctx, b, StatusAbandoned, EndExpired, "")
		}
		return b, nil
	}

	if m.isAbandoned(ctx, b, now) {
		return m.terminate(ctx, b, StatusAbandoned, EndAbandoned, "")
	}

	rq, err := m.store.LoadRound(ctx, b.ID, b.Round)
	if err != nil { return nil, err }
	if rq != nil && now.Sub(rq.AskedAt) > m.set.RoundTimeout {
		nb, _, rerr := m.resolveRound(ctx, b, rq)
		if rerr != nil { return nil, rerr }
		return nb, nil
	}
	return b, nil
}

// isAbandoned reports whether every participant has been silent past the
// inactivity window.
func (m *Manager) isAbandoned(ctx context.Context, b *Battle, now time.Time) bool {
	for _, p := range b.Participants {
		last := b.LastActivityAt
		if seen, ok := m.store.LastSeen(ctx, b.ID, p.UserID); ok && seen.After(last) { last = seen }
		if now.Sub(last) <= m.set.CounterTimeout { return false }
	}
	return len(b.Participants) > 0
}

// ensureRound makes sure the current round has a question, creating it
// through SetNX so concurrent starters converge on one record.
func (m *Manager) ensureRound(ctx context.Context, b *Battle) (*RoundQuestion, error) {
	rq, err := m.store.LoadRound(ctx, b.ID, b.Round)
	if err != nil { return nil, err }
	if rq != nil { return rq, nil }

	q, err := m.gen.Generate(ctx, b.Domain, m.profileFor(b))
	if err != nil { return nil, err }
	rq = &RoundQuestion{Round: b.Round, Question: *q, AskedAt: m.now(), Answers: map[string]Submission{}}
	ok, err := m.store.SaveRoundNX(ctx, b.ID, rq)
	if err != nil { return nil, err }
	if !ok {
		// another process started the round first; serve its question
		return m.store.LoadRound(ctx, b.ID, b.Round)
	}
	obslog.L().Info("round_start",
		zap.String("battle_id", b.ID),
		zap.Int("round", rq.Round),
		zap.String("question_id", q.ID),
	)
	return rq, nil
}

func (m *Manager) profileFor(b *Battle) question.Profile {
	gap := 0
	if len(b.Participants) == 2 {
		gap = b.Participants[0].RoundsWon - b.Participants[1].RoundsWon
		if gap < 0 { gap = -gap }
	}
	return question.Profile{Round: b.Round, ScoreGap: gap, Level: 1 + b.Round/3}
}

// resolveRound applies the round outcome exactly once. The round lock
// linearizes resolvers; losing the race is not an error, the loser simply
// re-reads the resolved state.
func (m *Manager) resolveRound(ctx context.Context, b *Battle, rq *RoundQuestion) (*Battle, *RoundResult, error) {
	start := time.Now()
	token, got, err := m.store.AcquireRoundLock(ctx, b.ID, rq.Round, m.set.LockTTL)
	if err != nil { return nil, nil, err }
	if !got {
		metrics.LockContention.Inc()
		nb, lerr := m.store.LoadBattle(ctx, b.ID)
		if lerr != nil { return nil, nil, lerr }
		if nb == nil { return nil, nil, ErrBattleNotFound }
		return nb, nb.outcomeFor(rq.Round), nil
	}
	defer m.store.ReleaseRoundLock(ctx, b.ID, rq.Round, token)

	battleK := m.store.keyBattle(b.ID)
	var cur Battle
	var out *RoundResult
	applied := false
	err = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		applied, out = false, nil
		raw, err := tx.Get(ctx, battleK).Bytes()
		if err == redis.Nil { return ErrBattleNotFound }
		if err != nil { return err }
		cur = Battle{}
		if jerr := json.Unmarshal(raw, &cur); jerr != nil { return jerr }
		if cur.Status != StatusInProgress || cur.Round != rq.Round {
			// already resolved by a previous lock holder
			return nil
		}

		res := m.judge(&cur, rq)
		cur.History = append(cur.History, *res)
		if res.WinnerID != "" { cur.participant(res.WinnerID).RoundsWon++ }
		if res.LoserID != "" {
			lp := cur.participant(res.LoserID)
			lp.HP -= res.Damage
			if lp.HP < 0 { lp.HP = 0 }
		}
		cur.Round++
		cur.LastActivityAt = m.now()
		m.applyTerminal(&cur)

		pipe := tx.TxPipeline()
		newRaw, _ := json.Marshal(&cur)
		pipe.Set(ctx, battleK, newRaw, m.store.battleTTL(&cur))
		pipe.Del(ctx, m.store.keyRound(b.ID, rq.Round))
		if _, perr := pipe.Exec(ctx); perr != nil { return perr }
		out = res
		applied = true
		return nil
	}, battleK)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			nb, lerr := m.store.LoadBattle(ctx, b.ID)
			if lerr != nil { return nil, nil, lerr }
			if nb == nil { return nil, nil, ErrBattleNotFound }
			return nb, nb.outcomeFor(rq.Round), nil
		}
		return nil, nil, err
	}
	if !applied {
		return &cur, cur.outcomeFor(rq.Round), nil
	}

	metrics.RoundsResolved.Inc()
	metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	obslog.L().Info("round_resolve",
		zap.String("battle_id", cur.ID),
		zap.Int("round", rq.Round),
		zap.String("winner", out.WinnerID),
		zap.Int("damage", out.Damage),
		zap.String("status", string(cur.Status)),
	)
	m.dispatchMastery(&cur, rq, out)
	if cur.terminal() {
		m.afterTerminal(ctx, &cur)
	}
	m.store.PublishEvent(ctx, cur.ID)
	return &cur, out, nil
}

// judge decides the round winner: correctness first, then faster response
// among correct answers. Deterministic given the same inputs so a retried
// resolution computes identical deltas.
func (m *Manager) judge(b *Battle, rq *RoundQuestion) *RoundResult {
	res := &RoundResult{
		Round:      rq.Round,
		QuestionID: rq.Question.ID,
		Correct:    make(map[string]bool, 2),
		ResolvedAt: m.now(),
	}
	type scored struct {
		userID  string
		correct bool
		at      time.Time
	}
	var ss []scored
	for _, p := range b.Participants {
		sub, answered := rq.Answers[p.UserID]
		correct := answered && question.Validate(&rq.Question, sub.Answer)
		res.Correct[p.UserID] = correct
		ss = append(ss, scored{p.UserID, correct, sub.SubmittedAt})
	}
	a, c := ss[0], ss[1]
	switch {
	case a.correct && c.correct:
		if c.at.Before(a.at) { a, c = c, a }
		res.WinnerID, res.LoserID = a.userID, c.userID
	case a.correct:
		res.WinnerID, res.LoserID = a.userID, c.userID
	case c.correct:
		res.WinnerID, res.LoserID = c.userID, a.userID
	default:
		// nobody got it; no HP change, the round still advances
	}
	if res.LoserID != "" { res.Damage = m.set.DamagePerRound }
	return res
}

// applyTerminal flips the battle to COMPLETED when a knockout or the round
// cap is reached. Must only run inside the resolution transaction.
func (m *Manager) applyTerminal(b *Battle) {
	for i := range b.Participants {
		if b.Participants[i].HP <= 0 {
			b.Status = StatusCompleted
			b.EndReason = EndKnockout
			b.WinnerID = b.opponent(b.Participants[i].UserID).UserID
			return
		}
	}
	if b.Round <= m.set.MaxRounds { return }
	b.Status = StatusCompleted
	p0, p1 := &b.Participants[0], &b.Participants[1]
	switch {
	case p0.RoundsWon != p1.RoundsWon:
		b.EndReason = EndMaxRounds
		if p0.RoundsWon > p1.RoundsWon { b.WinnerID = p0.UserID } else { b.WinnerID = p1.UserID }
	case p0.HP != p1.HP:
		b.EndReason = EndMaxRounds
		if p0.HP > p1.HP { b.WinnerID = p0.UserID } else { b.WinnerID = p1.UserID }
	default:
		b.EndReason = EndDraw
	}
}

// terminate performs a forward-only status transition under WATCH. The
// process whose transaction lands runs the one-shot terminal side effects.
func (m *Manager) terminate(ctx context.Context, b *Battle, status Status, reason EndReason, winnerID string) (*Battle, error) {
	battleK := m.store.keyBattle(b.ID)
	var cur Battle
	applied := false
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		applied = false
		raw, err := tx.Get(ctx, battleK).Bytes()
		if err == redis.Nil { return ErrBattleNotFound }
		if err != nil { return err }
		cur = Battle{}
		if jerr := json.Unmarshal(raw, &cur); jerr != nil { return jerr }
		if cur.terminal() { return nil }

		invite := cur.InviteCode
		round := cur.Round
		cur.Status = status
		cur.EndReason = reason
		cur.WinnerID = winnerID
		cur.InviteCode = ""
		cur.LastActivityAt = m.now()

		pipe := tx.TxPipeline()
		newRaw, _ := json.Marshal(&cur)
		pipe.Set(ctx, battleK, newRaw, m.store.battleTTL(&cur))
		if invite != "" { pipe.Del(ctx, m.store.keyInvite(invite)) }
		if round > 0 { pipe.Del(ctx, m.store.keyRound(cur.ID, round)) }
		if _, perr := pipe.Exec(ctx); perr != nil { return perr }
		applied = true
		return nil
	}, battleK)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			nb, lerr := m.store.LoadBattle(ctx, b.ID)
			if lerr != nil { return nil, lerr }
			if nb == nil { return nil, ErrBattleNotFound }
			return nb, nil
		}
		return nil, err
	}
	if applied {
		m.afterTerminal(ctx, &cur)
	}
	return &cur, nil
}

// afterTerminal runs settlement, refunds, metrics and notification for a
// battle this process just moved to a terminal state. Reached at most once
// per battle because both transition paths are compare-and-set.
func (m *Manager) afterTerminal(ctx context.Context, b *Battle) {
	metrics.BattlesEnded.WithLabelValues(string(b.EndReason)).Inc()
	m.store.PublishEvent(ctx, b.ID)

	switch b.EndReason {
	case EndKnockout, EndMaxRounds, EndForfeit:
		m.settle(ctx, b)
	case EndDraw:
		m.refundAll(ctx, b)
	case EndExpired:
		m.refundAll(ctx, b)
	case EndAbandoned, EndCorrupt:
		if m.set.RefundOnAbandon { m.refundAll(ctx, b) }
	}
	obslog.L().Info("battle_end",
		zap.String("battle_id", b.ID),
		zap.String("status", string(b.Status)),
		zap.String("reason", string(b.EndReason)),
		zap.String("winner", b.WinnerID),
	)
}

func (m *Manager) settle(ctx context.Context, b *Battle) {
	winner := b.participant(b.WinnerID)
	loser := b.opponent(b.WinnerID)
	if winner == nil || loser == nil { return }
	award := economy.CalcBattleXp(economy.BattleOutcome{
		WinnerID:        winner.UserID,
		LoserID:         loser.UserID,
		WinnerRoundsWon: winner.RoundsWon,
		LoserRoundsWon:  loser.RoundsWon,
	})
	if err := m.ledger.Credit(ctx, winner.UserID, award.WinnerXP, economy.ReasonBattleWin); err != nil {
		obslog.L().Error("settle_error", zap.String("battle_id", b.ID), zap.String("user_id", winner.UserID), zap.Error(err))
	}
	if err := m.ledger.Credit(ctx, loser.UserID, award.LoserXP, economy.ReasonBattleLoss); err != nil {
		obslog.L().Error("settle_error", zap.String("battle_id", b.ID), zap.String("user_id", loser.UserID), zap.Error(err))
	}
	metrics.Settlements.Inc()
	obslog.L().Info("settle",
		zap.String("battle_id", b.ID),
		zap.String("winner", winner.UserID),
		zap.Int("winner_xp", award.WinnerXP),
		zap.Int("loser_xp", award.LoserXP),
	)
}

func (m *Manager) refundAll(ctx context.Context, b *Battle) {
	for _, p := range b.Participants {
		if err := m.ledger.Credit(ctx, p.UserID, m.set.EntryFeeXP, economy.ReasonRefund); err != nil {
			obslog.L().Error("refund_error", zap.String("battle_id", b.ID), zap.String("user_id", p.UserID), zap.Error(err))
		}
	}
}

// dispatchMastery sends per-answer signals to the tracker after the round
// committed. Decoupled from the caller's result on purpose: the primary
// write has returned, tracking failures only get logged.
func (m *Manager) dispatchMastery(b *Battle, rq *RoundQuestion, out *RoundResult) {
	if m.tracker == nil { return }
	battleID, questionID := b.ID, rq.Question.ID
	correct := make(map[string]bool, len(out.Correct))
	for k, v := range out.Correct { correct[k] = v }
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for userID, ok := range correct {
			if err := m.tracker.RoundResolved(ctx, battleID, userID, questionID, ok); err != nil {
				obslog.L().Warn("mastery_track_error",
					zap.String("battle_id", battleID),
					zap.String("user_id", userID),
					zap.Error(err),
				)
			}
		}
	}()
}

func (m *Manager) view(b *Battle, rq *RoundQuestion) *StateView {
	v := &StateView{
		BattleID:   b.ID,
		Status:     b.Status,
		Round:      b.Round,
		History:    b.History,
		WinnerID:   b.WinnerID,
		EndReason:  b.EndReason,
		InviteCode: b.InviteCode,
	}
	for _, p := range b.Participants {
		v.Participants = append(v.Participants, ParticipantView{UserID: p.UserID, HP: p.HP, RoundsWon: p.RoundsWon})
	}
	if rq != nil {
		qv := rq.Question.View()
		v.Question = &qv
		rem := m.set.RoundTimeout - m.now().Sub(rq.AskedAt)
		if rem < 0 { rem = 0 }
		v.DeadlineMS = rem.Milliseconds()
	}
	return v
}
