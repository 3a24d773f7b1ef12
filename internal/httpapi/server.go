package httpapi

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mkrph/quizarena/internal/battle"
	"github.com/mkrph/quizarena/internal/economy"
	"github.com/mkrph/quizarena/internal/msgcat"
	"github.com/mkrph/quizarena/internal/obslog"
	"github.com/mkrph/quizarena/pkg/arenadto"
)

// Server is the RPC-style battle API. Routing is by hand; six endpoints
// do not need a framework.
type Server struct {
	mgr *battle.Manager
	cat *msgcat.Catalog
}

func NewServer(mgr *battle.Manager, cat *msgcat.Catalog) *Server {
	return &Server{mgr: mgr, cat: cat}
}

// Handler is the fasthttp entrypoint.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())
	userID := strings.TrimSpace(string(ctx.Request.Header.Peek("X-User-Id")))
	if userID == "" {
		s.fail(ctx, fasthttp.StatusUnauthorized, arenadto.CodeInvalidRequest, "X-User-Id header required")
		return
	}

	switch {
	case method == fasthttp.MethodPost && path == "/battle/queue/join":
		s.joinQueue(ctx, userID)
	case method == fasthttp.MethodPost && path == "/battle/invite":
		s.createInvite(ctx, userID)
	case method == fasthttp.MethodPost && path == "/battle/invite/redeem":
		s.redeemInvite(ctx, userID)
	case method == fasthttp.MethodGet && path == "/battle/active":
		s.activeBattle(ctx, userID)
	default:
		id, action, ok := splitBattlePath(path)
		if !ok {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		switch {
		case method == fasthttp.MethodGet && action == "":
			s.getState(ctx, id, userID)
		case method == fasthttp.MethodPost && action == "answer":
			s.submitAnswer(ctx, id, userID)
		case method == fasthttp.MethodPost && action == "forfeit":
			s.forfeit(ctx, id, userID)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

// splitBattlePath parses /battle/{id} and /battle/{id}/{action}.
func splitBattlePath(path string) (id, action string, ok bool) {
	rest, found := strings.CutPrefix(path, "/battle/")
	if !found || rest == "" { return "", "", false }
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) == 2 { action = parts[1] }
	return id, action, id != ""
}

func (s *Server) joinQueue(ctx *fasthttp.RequestCtx, userID string) {
	res, err := s.mgr.JoinQueue(ctx, userID)
	if err != nil {
		s.domainFail(ctx, err)
		return
	}
	out := arenadto.JoinQueueResponse{Status: "matched", BattleID: res.BattleID}
	if res.Waiting { out.Status = "waiting" }
	s.ok(ctx, out)
}

func (s *Server) createInvite(ctx *fasthttp.RequestCtx, userID string) {
	res, err := s.mgr.CreateInvite(ctx, userID)
	if err != nil {
		s.domainFail(ctx, err)
		return
	}
	msg, err := s.cat.Render("battle.invite_created", map[string]any{"Code": res.Code})
	if err != nil { msg = s.cat.Get("battle.invite_created") }
	s.ok(ctx, arenadto.CreateInviteResponse{BattleID: res.BattleID, InviteCode: res.Code, Message: msg})
}

func (s *Server) redeemInvite(ctx *fasthttp.RequestCtx, userID string) {
	var req arenadto.RedeemInviteRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.fail(ctx, fasthttp.StatusBadRequest, arenadto.CodeInvalidRequest, "malformed request body")
		return
	}
	res, err := s.mgr.RedeemInvite(ctx, req.Code, userID)
	if err != nil {
		s.domainFail(ctx, err)
		return
	}
	s.ok(ctx, arenadto.RedeemInviteResponse{BattleID: res.BattleID})
}

func (s *Server) activeBattle(ctx *fasthttp.RequestCtx, userID string) {
	view, err := s.mgr.ActiveBattleByUser(ctx, userID)
	if err != nil {
		s.domainFail(ctx, err)
		return
	}
	s.ok(ctx, view)
}

func (s *Server) getState(ctx *fasthttp.RequestCtx, battleID, userID string) {
	view, err := s.mgr.GetState(ctx, battleID, userID)
	if err != nil {
		s.domainFail(ctx, err)
		return
	}
	s.ok(ctx, view)
}

func (s *Server) submitAnswer(ctx *fasthttp.RequestCtx, battleID, userID string) {
	var req arenadto.SubmitAnswerRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.fail(ctx, fasthttp.StatusBadRequest, arenadto.CodeInvalidRequest, "malformed request body")
		return
	}
	res, err := s.mgr.SubmitAnswer(ctx, battleID, userID, req.Round, req.Answer)
	if err != nil {
		s.domainFail(ctx, err)
		return
	}
	s.ok(ctx, res)
}

func (s *Server) forfeit(ctx *fasthttp.RequestCtx, battleID, userID string) {
	view, err := s.mgr.Forfeit(ctx, battleID, userID)
	if err != nil {
		s.domainFail(ctx, err)
		return
	}
	s.ok(ctx, view)
}

func (s *Server) ok(ctx *fasthttp.RequestCtx, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		s.fail(ctx, fasthttp.StatusInternalServerError, arenadto.CodeUnavailable, s.cat.Get("battle.unavailable"))
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(raw)
}

func (s *Server) fail(ctx *fasthttp.RequestCtx, status int, code, message string) {
	s.writeError(ctx, status, arenadto.DomainError{Code: code, Message: message})
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, derr arenadto.DomainError) {
	raw, _ := json.Marshal(arenadto.ErrorResponse{Code: derr.Code, Message: derr.Message, Retryable: derr.Retryable})
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(raw)
}

// domainFail maps manager errors onto the client error taxonomy. Anything
// unrecognized is treated as infrastructure degradation: fail closed with
// 503, never crash the host process.
func (s *Server) domainFail(ctx *fasthttp.RequestCtx, err error) {
	status, derr := s.classify(err)
	s.writeError(ctx, status, derr)
}

func (s *Server) classify(err error) (int, arenadto.DomainError) {
	switch {
	case errors.Is(err, battle.ErrBattleNotFound):
		return fasthttp.StatusNotFound, arenadto.DomainError{Code: arenadto.CodeBattleNotFound, Message: s.cat.Get("battle.not_found")}
	case errors.Is(err, battle.ErrInviteNotFound):
		return fasthttp.StatusNotFound, arenadto.DomainError{Code: arenadto.CodeInviteNotFound, Message: s.cat.Get("battle.invite_not_found")}
	case errors.Is(err, battle.ErrInviteAlreadyUsed):
		return fasthttp.StatusConflict, arenadto.DomainError{Code: arenadto.CodeInviteAlreadyUsed, Message: s.cat.Get("battle.invite_already_used")}
	case errors.Is(err, economy.ErrInsufficientBalance):
		return fasthttp.StatusPaymentRequired, arenadto.DomainError{Code: arenadto.CodeInsufficientBalance, Message: err.Error()}
	case errors.Is(err, battle.ErrRoundExpired):
		return fasthttp.StatusGone, arenadto.DomainError{Code: arenadto.CodeRoundExpired, Message: s.cat.Get("battle.round_expired")}
	case errors.Is(err, battle.ErrRoundMismatch):
		return fasthttp.StatusConflict, arenadto.DomainError{Code: arenadto.CodeRoundMismatch, Message: err.Error(), Retryable: true}
	case errors.Is(err, battle.ErrNotParticipant):
		return fasthttp.StatusForbidden, arenadto.DomainError{Code: arenadto.CodeNotParticipant, Message: s.cat.Get("battle.not_participant")}
	case errors.Is(err, battle.ErrInvalidArgs):
		return fasthttp.StatusBadRequest, arenadto.DomainError{Code: arenadto.CodeInvalidRequest, Message: err.Error()}
	default:
		obslog.L().Error("battle_api_error", zap.Error(err))
		return fasthttp.StatusServiceUnavailable, arenadto.DomainError{Code: arenadto.CodeUnavailable, Message: s.cat.Get("battle.unavailable"), Retryable: true}
	}
}
