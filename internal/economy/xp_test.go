package economy

import (
	"context"
	"testing"
)

func TestCalcBattleXp(t *testing.T) {
	cases := []struct {
		name string
		out  BattleOutcome
		want XPAward
	}{
		{
			name: "clean sweep",
			out:  BattleOutcome{WinnerID: "a", LoserID: "b", WinnerRoundsWon: 3},
			want: XPAward{WinnerXP: 80},
		},
		{
			name: "close match",
			out:  BattleOutcome{WinnerID: "a", LoserID: "b", WinnerRoundsWon: 5, LoserRoundsWon: 4},
			want: XPAward{WinnerXP: 100, LoserXP: 20},
		},
		{
			name: "forfeit before any round",
			out:  BattleOutcome{WinnerID: "a", LoserID: "b"},
			want: XPAward{WinnerXP: 50},
		},
		{
			name: "abandoned awards nothing",
			out:  BattleOutcome{WinnerID: "a", LoserID: "b", WinnerRoundsWon: 3, Abandoned: true},
			want: XPAward{},
		},
	}
	for _, tc := range cases {
		if got := CalcBattleXp(tc.out); got != tc.want {
			t.Errorf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestMemoryLedgerDebit(t *testing.T) {
	ctx := context.Background()
	led := NewMemoryLedger()
	led.Seed("u1", 15)

	if err := led.Debit(ctx, "u1", 10, ReasonEntryFee); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if err := led.Debit(ctx, "u1", 10, ReasonEntryFee); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if bal, _ := led.Balance(ctx, "u1"); bal != 5 {
		t.Fatalf("failed debit must not change the balance, got %d", bal)
	}

	if err := led.Credit(ctx, "u1", 50, ReasonBattleWin); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if bal, _ := led.Balance(ctx, "u1"); bal != 55 {
		t.Fatalf("expected balance 55, got %d", bal)
	}
	if n := led.EntryCount(ReasonBattleWin); n != 1 {
		t.Fatalf("expected one win entry, got %d", n)
	}

	// zero-amount credits are dropped, not recorded
	if err := led.Credit(ctx, "u1", 0, ReasonBattleLoss); err != nil {
		t.Fatalf("zero credit: %v", err)
	}
	if n := led.EntryCount(ReasonBattleLoss); n != 0 {
		t.Fatalf("zero credit must not append an entry, got %d", n)
	}
}
