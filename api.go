package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/Nevug030/ShababsHub/internal/apperr"
	"github.com/Nevug030/ShababsHub/internal/identity"
	"github.com/Nevug030/ShababsHub/internal/quiz"
	"github.com/Nevug030/ShababsHub/internal/store"
)

const maxBodySize = 64 << 10

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.ErrInvalidRequest, err)
	}
	return nil
}

// handle adapts fn to httprouter, rendering its error or its result.
func (s *server) handle(status int, fn func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		securityHeaders(s.cfg, w)

		out, err := fn(w, r, ps)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		if err := writeJSON(w, status, out); err != nil {
			s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("write response")
		}
	}
}

type playerRequest struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
}

func (p playerRequest) player() identity.Player {
	return identity.Player{ID: p.PlayerID, DisplayName: p.DisplayName}
}

func (s *server) registerRooms(prefix string, mux *httprouter.Router) {
	mux.POST(prefix+"/rooms", s.handle(http.StatusCreated, s.createRoom))
	mux.GET(prefix+"/rooms/:code", s.handle(http.StatusOK, s.roomDetails))
	mux.POST(prefix+"/rooms/:code", s.handle(http.StatusOK, s.joinRoom))
	mux.POST(prefix+"/rooms/:code/leave", s.handle(http.StatusOK, s.leaveRoom))
	mux.GET(prefix+"/rooms/:code/quiz", s.handle(http.StatusOK, s.roomQuiz))
	mux.GET(prefix+"/rooms/:code/qr", s.serveQR(prefix))
	mux.GET(prefix+"/rooms/:code/ws", s.serveWS())
}

func (s *server) createRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	var req playerRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	return s.rooms.CreateRoom(r.Context(), req.player())
}

func (s *server) roomDetails(_ http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	code := ps.ByName("code")

	details, err := s.rooms.Details(r.Context(), code)
	if err != nil {
		return nil, err
	}

	if details.Room.Status != store.RoomOpen {
		_, _, err := s.rooms.Member(r.Context(), code, r.URL.Query().Get("player_id"))
		if err != nil {
			return nil, apperr.ErrRoomNotAcceptingPlayers
		}
	}

	return details, nil
}

func (s *server) joinRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	var req playerRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	return s.rooms.JoinRoom(r.Context(), ps.ByName("code"), req.player())
}

func (s *server) leaveRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	var req playerRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	return s.rooms.LeaveRoom(r.Context(), ps.ByName("code"), req.PlayerID)
}

func (s *server) roomQuiz(_ http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	details, err := s.rooms.Details(r.Context(), ps.ByName("code"))
	if err != nil {
		return nil, err
	}

	return s.quiz.Current(r.Context(), details.Room.ID)
}

func (s *server) registerQuiz(prefix string, mux *httprouter.Router) {
	mux.POST(prefix+"/quiz/sessions", s.handle(http.StatusCreated, s.startSession))
	mux.POST(prefix+"/quiz/sessions/:sessionId/next", s.handle(http.StatusCreated, s.nextRound))
	mux.POST(prefix+"/quiz/sessions/:sessionId/end", s.handle(http.StatusOK, s.endSession))
	mux.GET(prefix+"/quiz/sessions/:sessionId/scores", s.handle(http.StatusOK, s.sessionScores))
	mux.POST(prefix+"/quiz/rounds", s.handle(http.StatusCreated, s.startRound))
	mux.POST(prefix+"/quiz/rounds/:roundId/lock", s.handle(http.StatusOK, s.lockRound))
	mux.POST(prefix+"/quiz/rounds/:roundId/reveal", s.handle(http.StatusOK, s.revealRound))
	mux.GET(prefix+"/quiz/rounds/:roundId/answers", s.handle(http.StatusOK, s.roundAnswers))
	mux.POST(prefix+"/quiz/answers", s.handle(http.StatusCreated, s.submitAnswer))
}

type sessionResponse struct {
	Session store.Session `json:"session"`
}

type roundResponse struct {
	Round store.Round `json:"round"`
}

func (s *server) startSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	var req struct {
		RoomID      string `json:"room_id"`
		CreatedBy   string `json:"created_by"`
		TotalRounds int    `json:"total_rounds"`
	}
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}
	if req.RoomID == "" {
		return nil, apperr.Detail(apperr.ErrInvalidRequest, "room_id is required")
	}

	sess, err := s.quiz.StartSession(r.Context(), req.RoomID, identity.Player{ID: req.CreatedBy}, req.TotalRounds)
	if err != nil {
		return nil, err
	}
	return sessionResponse{Session: sess}, nil
}

func (s *server) nextRound(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	var req struct {
		PlayerID string        `json:"player_id"`
		Question quiz.Question `json:"question"`
	}
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	round, err := s.quiz.NextRound(r.Context(), ps.ByName("sessionId"), identity.Player{ID: req.PlayerID}, req.Question)
	if err != nil {
		return nil, err
	}
	return roundResponse{Round: round}, nil
}

func (s *server) endSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	var req playerRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	return s.quiz.EndSession(r.Context(), ps.ByName("sessionId"), req.player())
}

func (s *server) sessionScores(_ http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	scores, err := s.quiz.Scores(r.Context(), ps.ByName("sessionId"))
	if err != nil {
		return nil, err
	}
	return struct {
		Scores []quiz.PlayerScore `json:"scores"`
	}{scores}, nil
}

func (s *server) startRound(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	var req struct {
		SessionID string        `json:"session_id"`
		PlayerID  string        `json:"player_id"`
		RoundNo   int           `json:"round_no"`
		Question  quiz.Question `json:"question"`
	}
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	round, err := s.quiz.StartRound(r.Context(), req.SessionID, identity.Player{ID: req.PlayerID}, req.RoundNo, req.Question)
	if err != nil {
		return nil, err
	}
	return roundResponse{Round: round}, nil
}

func (s *server) lockRound(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	var req playerRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	round, err := s.quiz.LockRound(r.Context(), ps.ByName("roundId"), req.player())
	if err != nil {
		return nil, err
	}
	return roundResponse{Round: round}, nil
}

func (s *server) revealRound(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	var req struct {
		PlayerID     string `json:"player_id"`
		CorrectIndex *int   `json:"correct_index"`
	}
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}
	if req.CorrectIndex == nil {
		return nil, apperr.ErrInvalidChoiceIndex
	}

	return s.quiz.RevealRound(r.Context(), ps.ByName("roundId"), identity.Player{ID: req.PlayerID}, *req.CorrectIndex)
}

func (s *server) roundAnswers(_ http.ResponseWriter, r *http.Request, ps httprouter.Params) (any, error) {
	caller := identity.Player{ID: r.URL.Query().Get("player_id")}

	answers, err := s.quiz.RoundAnswers(r.Context(), ps.ByName("roundId"), caller)
	if err != nil {
		return nil, err
	}
	return struct {
		Answers []store.Answer `json:"answers"`
	}{answers}, nil
}

func (s *server) submitAnswer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (any, error) {
	var req struct {
		RoundID     string `json:"round_id"`
		PlayerID    string `json:"player_id"`
		DisplayName string `json:"display_name"`
		ChoiceIndex *int   `json:"choice_index"`
	}
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}
	if req.ChoiceIndex == nil {
		return nil, apperr.ErrInvalidChoiceIndex
	}

	caller := identity.Player{ID: req.PlayerID, DisplayName: req.DisplayName}

	answer, err := s.quiz.SubmitAnswer(r.Context(), req.RoundID, caller, *req.ChoiceIndex)
	if err != nil {
		return nil, err
	}
	return struct {
		Answer store.Answer `json:"answer"`
	}{answer}, nil
}
