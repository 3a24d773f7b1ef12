package arenadto

// RedeemInviteRequest joins a battle by its share code.
type RedeemInviteRequest struct {
	Code string `json:"code"`
}

// SubmitAnswerRequest carries one participant's answer for a round.
type SubmitAnswerRequest struct {
	Round  int    `json:"round"`
	Answer string `json:"answer"`
}
