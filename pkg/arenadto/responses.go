package arenadto

// Stable error codes surfaced to clients.
const (
	CodeInviteNotFound      = "INVITE_NOT_FOUND"
	CodeInviteAlreadyUsed   = "INVITE_ALREADY_USED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeRoundExpired        = "ROUND_EXPIRED"
	CodeBattleNotFound      = "BATTLE_NOT_FOUND"
	CodeRoundMismatch       = "ROUND_MISMATCH"
	CodeNotParticipant      = "NOT_PARTICIPANT"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnavailable         = "UNAVAILABLE"
)

type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type JoinQueueResponse struct {
	Status   string `json:"status"` // "waiting" or "matched"
	BattleID string `json:"battle_id,omitempty"`
}

type CreateInviteResponse struct {
	BattleID   string `json:"battle_id"`
	InviteCode string `json:"invite_code"`
	Message    string `json:"message,omitempty"`
}

type RedeemInviteResponse struct {
	BattleID string `json:"battle_id"`
}
