package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appBattle "github.com/wordbattle/wordbattle/internal/application/battle"
	appSession "github.com/wordbattle/wordbattle/internal/application/session"
	"github.com/wordbattle/wordbattle/internal/domain/battle"
	"github.com/wordbattle/wordbattle/internal/domain/event"
	"github.com/wordbattle/wordbattle/internal/infrastructure/store"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	sessionSvc *appSession.Service
	battleSvc  *appBattle.Service
	wsHandler  http.Handler
	// onBattleCreated runs after a battle initializes, typically to start
	// its pickup spawner.
	onBattleCreated func(bid string)
}

func NewServer(sessionSvc *appSession.Service, battleSvc *appBattle.Service, wsHandler http.Handler, onBattleCreated func(bid string)) *Server {
	return &Server{
		sessionSvc:      sessionSvc,
		battleSvc:       battleSvc,
		wsHandler:       wsHandler,
		onBattleCreated: onBattleCreated,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Route("/v1", func(r chi.Router) {
			r.Route("/puzzles", func(r chi.Router) {
				r.Post("/", s.createPuzzle)
				r.Get("/{pid}", s.getPuzzle)
			})
			r.Route("/games", func(r chi.Router) {
				r.Post("/", s.createGame)
				r.Get("/{gid}/events", s.getGameEvents)
				r.Get("/{gid}/state", s.getGameState)
			})
			r.Route("/battles", func(r chi.Router) {
				r.Post("/", s.createBattle)
				r.Get("/{bid}", s.getBattle)
				r.Post("/{bid}/start", s.startBattle)
			})
		})
		r.Get("/healthz", s.health)
	})

	// the websocket outlives any request deadline; its lifecycle is the
	// connection's own read/write pumps
	r.Get("/ws", s.wsHandler.ServeHTTP)
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

type createPuzzleRequest struct {
	PID    string            `json:"pid"`
	Puzzle appSession.Puzzle `json:"puzzle"`
}

func (s *Server) createPuzzle(w http.ResponseWriter, r *http.Request) {
	var req createPuzzleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.sessionSvc.PutPuzzle(r.Context(), req.PID, req.Puzzle); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"pid": req.PID})
}

func (s *Server) getPuzzle(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	p, err := s.sessionSvc.Puzzle(r.Context(), pid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "puzzle not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	var params event.CreateParams
	if err := decodeBody(r, &params); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	gid, err := s.sessionSvc.Create(r.Context(), params)
	if err != nil {
		if errors.Is(err, event.ErrInvalidParams) {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"gid": gid})
}

func (s *Server) getGameEvents(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")
	events, err := s.sessionSvc.Events(r.Context(), gid)
	if err != nil {
		if errors.Is(err, event.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "game not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) getGameState(w http.ResponseWriter, r *http.Request) {
	gid := chi.URLParam(r, "gid")
	state, err := s.sessionSvc.State(r.Context(), gid)
	if err != nil {
		if errors.Is(err, event.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "game not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, state)
}

type createBattleRequest struct {
	PID string `json:"pid"`
}

func (s *Server) createBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.PID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "pid is required")
		return
	}
	bid, err := s.battleSvc.Initialize(r.Context(), req.PID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "puzzle not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if s.onBattleCreated != nil {
		s.onBattleCreated(bid)
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"bid": bid})
}

func (s *Server) getBattle(w http.ResponseWriter, r *http.Request) {
	bid := chi.URLParam(r, "bid")
	snap, err := s.battleSvc.Snapshot(r.Context(), bid)
	if err != nil {
		if errors.Is(err, battle.ErrBattleNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "battle not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) startBattle(w http.ResponseWriter, r *http.Request) {
	bid := chi.URLParam(r, "bid")
	startedAt, err := s.battleSvc.Start(r.Context(), bid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"startedAt": startedAt})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
