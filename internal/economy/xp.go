package economy

// Settlement policy constants. Deterministic given the same outcome so a
// retried settlement computes identical deltas.
const (
	winBaseXP      = 50
	winRoundBonus  = 10
	lossRoundBonus = 5
)

// BattleOutcome is the settled result of one battle as seen by economy.
type BattleOutcome struct {
	WinnerID        string
	LoserID         string
	WinnerRoundsWon int
	LoserRoundsWon  int
	Abandoned       bool
}

// XPAward is the pair of credits settlement applies.
type XPAward struct {
	WinnerXP int
	LoserXP  int
}

// CalcBattleXp computes the XP awards for a finished battle. Abandoned
// battles award nothing; refunds are a separate policy decision handled
// by the caller.
func CalcBattleXp(o BattleOutcome) XPAward {
	if o.Abandoned {
		return XPAward{}
	}
	return XPAward{
		WinnerXP: winBaseXP + winRoundBonus*o.WinnerRoundsWon,
		LoserXP:  lossRoundBonus * o.LoserRoundsWon,
	}
}
