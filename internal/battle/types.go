package battle

import (
	"time"

	"github.com/mkrph/quizarena/internal/question"
)

// Status represents the battle lifecycle state. Transitions are forward
// only: WAITING_FOR_OPPONENT → IN_PROGRESS → COMPLETED | ABANDONED.
type Status string

const (
	StatusWaiting    Status = "WAITING_FOR_OPPONENT"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusAbandoned  Status = "ABANDONED"
)

// EndReason records why a battle reached a terminal state.
type EndReason string

const (
	EndKnockout  EndReason = "knockout"
	EndMaxRounds EndReason = "max_rounds"
	EndDraw      EndReason = "draw"
	EndForfeit   EndReason = "forfeit"
	EndAbandoned EndReason = "abandoned"
	EndExpired   EndReason = "invite_expired"
	EndCorrupt   EndReason = "corrupt_state"
)

// Participant is owned by Battle; no independent lifecycle.
type Participant struct {
	UserID    string `json:"user_id"`
	HP        int    `json:"hp"`
	RoundsWon int    `json:"rounds_won"`
}

// RoundResult is the settled outcome of one round, appended to the battle
// history by the resolution path only.
type RoundResult struct {
	Round      int       `json:"round"`
	QuestionID string    `json:"question_id"`
	WinnerID   string    `json:"winner_id,omitempty"`
	LoserID    string    `json:"loser_id,omitempty"`
	Damage     int       `json:"damage"`
	Correct    map[string]bool `json:"correct"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Battle is the root aggregate, stored as JSON in Redis under one key.
type Battle struct {
	ID             string        `json:"id"`
	Status         Status        `json:"status"`
	Participants   []Participant `json:"participants"`
	Round          int           `json:"round"`
	Domain         string        `json:"domain"`
	InviteCode     string        `json:"invite_code,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	History        []RoundResult `json:"history,omitempty"`
	WinnerID       string        `json:"winner_id,omitempty"`
	EndReason      EndReason     `json:"end_reason,omitempty"`
}

func (b *Battle) participant(userID string) *Participant {
	for i := range b.Participants {
		if b.Participants[i].UserID == userID { return &b.Participants[i] }
	}
	return nil
}

func (b *Battle) opponent(userID string) *Participant {
	for i := range b.Participants {
		if b.Participants[i].UserID != userID { return &b.Participants[i] }
	}
	return nil
}

func (b *Battle) terminal() bool {
	return b.Status == StatusCompleted || b.Status == StatusAbandoned
}

func (b *Battle) outcomeFor(round int) *RoundResult {
	for i := range b.History {
		if b.History[i].Round == round { return &b.History[i] }
	}
	return nil
}

// Submission is one participant's answer within a round. First write wins;
// later writes from the same participant are rejected, not overwritten.
type Submission struct {
	Answer      string    `json:"answer"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RoundQuestion is one per (battle, round), created when the round starts
// and deleted once resolved. The embedded question carries the answer
// material and must never reach a client unsanitized.
type RoundQuestion struct {
	Round    int                   `json:"round"`
	Question question.Question     `json:"question"`
	AskedAt  time.Time             `json:"asked_at"`
	Answers  map[string]Submission `json:"answers"`
}

// Views returned to the API layer.

type ParticipantView struct {
	UserID    string `json:"user_id"`
	HP        int    `json:"hp"`
	RoundsWon int    `json:"rounds_won"`
}

type StateView struct {
	BattleID     string            `json:"battle_id"`
	Status       Status            `json:"status"`
	Round        int               `json:"round"`
	Participants []ParticipantView `json:"participants"`
	Question     *question.View    `json:"question,omitempty"`
	DeadlineMS   int64             `json:"deadline_ms,omitempty"`
	History      []RoundResult     `json:"history,omitempty"`
	WinnerID     string            `json:"winner_id,omitempty"`
	EndReason    EndReason         `json:"end_reason,omitempty"`
	InviteCode   string            `json:"invite_code,omitempty"`
}

type JoinResult struct {
	Waiting  bool
	BattleID string
}

type InviteResult struct {
	BattleID string
	Code     string
}

type SubmitResult struct {
	Pending bool
	Outcome *RoundResult
	State   *StateView
}

// Errors
var (
	ErrBattleNotFound    = errf("battle not found")
	ErrInviteNotFound    = errf("invite not found or expired")
	ErrInviteAlreadyUsed = errf("invite already used")
	ErrRoundExpired      = errf("round deadline elapsed")
	ErrRoundMismatch     = errf("round not active")
	ErrNotParticipant    = errf("user not in battle")
	ErrInvalidArgs       = errf("invalid arguments")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
