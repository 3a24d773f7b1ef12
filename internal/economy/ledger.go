package economy

import (
	"context"
	"errors"
)

var ErrInsufficientBalance = errors.New("insufficient xp balance")

// Ledger is the durable XP account store. Debit fails atomically with
// ErrInsufficientBalance when the balance cannot cover the amount.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int, reason string) error
	Credit(ctx context.Context, userID string, amount int, reason string) error
	Balance(ctx context.Context, userID string) (int, error)
}

// Reasons recorded on ledger entries.
const (
	ReasonEntryFee  = "battle_entry_fee"
	ReasonRefund    = "battle_refund"
	ReasonBattleWin = "battle_win"
	ReasonBattleLoss = "battle_loss"
)
