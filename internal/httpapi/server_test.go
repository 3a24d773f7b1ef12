package httpapi

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/mkrph/quizarena/internal/battle"
	"github.com/mkrph/quizarena/internal/economy"
	"github.com/mkrph/quizarena/internal/msgcat"
	"github.com/mkrph/quizarena/pkg/arenadto"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cat, err := msgcat.New()
	if err != nil { t.Fatalf("msgcat: %v", err) }
	return NewServer(nil, cat)
}

func TestClassify(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		err       error
		status    int
		code      string
		retryable bool
	}{
		{battle.ErrBattleNotFound, fasthttp.StatusNotFound, arenadto.CodeBattleNotFound, false},
		{battle.ErrInviteNotFound, fasthttp.StatusNotFound, arenadto.CodeInviteNotFound, false},
		{battle.ErrInviteAlreadyUsed, fasthttp.StatusConflict, arenadto.CodeInviteAlreadyUsed, false},
		{economy.ErrInsufficientBalance, fasthttp.StatusPaymentRequired, arenadto.CodeInsufficientBalance, false},
		{battle.ErrRoundExpired, fasthttp.StatusGone, arenadto.CodeRoundExpired, false},
		{battle.ErrRoundMismatch, fasthttp.StatusConflict, arenadto.CodeRoundMismatch, true},
		{battle.ErrNotParticipant, fasthttp.StatusForbidden, arenadto.CodeNotParticipant, false},
		{battle.ErrInvalidArgs, fasthttp.StatusBadRequest, arenadto.CodeInvalidRequest, false},
		{errors.New("redis gone"), fasthttp.StatusServiceUnavailable, arenadto.CodeUnavailable, true},
	}
	for _, tc := range cases {
		status, derr := s.classify(tc.err)
		if status != tc.status || derr.Code != tc.code || derr.Retryable != tc.retryable {
			t.Errorf("classify(%v) = %d/%s/retryable=%v, want %d/%s/retryable=%v",
				tc.err, status, derr.Code, derr.Retryable, tc.status, tc.code, tc.retryable)
		}
		if derr.Message == "" {
			t.Errorf("classify(%v) produced an empty message", tc.err)
		}
	}
}

func TestDomainFailBody(t *testing.T) {
	s := newTestServer(t)
	var ctx fasthttp.RequestCtx

	s.domainFail(&ctx, battle.ErrInviteAlreadyUsed)
	if ctx.Response.StatusCode() != fasthttp.StatusConflict {
		t.Fatalf("expected 409, got %d", ctx.Response.StatusCode())
	}
	var body arenadto.ErrorResponse
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Code != arenadto.CodeInviteAlreadyUsed || body.Message == "" {
		t.Fatalf("unexpected error body %+v", body)
	}
}
