package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/session"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
)

const pingTimeout = 2 * time.Second

type playerView struct {
	Username string `json:"username"`
	Symbol   string `json:"symbol"`
}

type roomView struct {
	RoomID    string       `json:"roomId"`
	CreatedAt time.Time    `json:"createdAt"`
	Active    bool         `json:"active"`
	Winner    string       `json:"winner,omitempty"`
	GameState []string     `json:"gameState"`
	Players   []playerView `json:"players"`
}

func Healthz(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func Stats(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := st.Stats(r.Context())
		if err != nil {
			logger.Error("stats", zap.Error(err))
			http.Error(w, "failed to read stats", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func GetRoom(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := session.NormalizeRoomID(chi.URLParam(r, "roomID"))
		rec, err := st.GetRoomWithPlayers(r.Context(), roomID)
		if err != nil {
			logger.Error("get room", zap.String("room_id", roomID), zap.Error(err))
			http.Error(w, "failed to read room", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		view := roomView{
			RoomID:    rec.Room.RoomID,
			CreatedAt: rec.Room.CreatedAt,
			Active:    rec.Room.Active,
			GameState: rec.Room.Board.Strings(),
			Players:   make([]playerView, 0, len(rec.Players)),
		}
		if rec.Room.Winner != nil {
			view.Winner = string(*rec.Room.Winner)
		}
		for _, p := range rec.Players {
			view.Players = append(view.Players, playerView{Username: p.Username, Symbol: string(p.Symbol)})
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
