package pgstore

import (
	"time"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
)

type roomRow struct {
	RoomID    string    `gorm:"column:room_id;primaryKey;size:16"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	Board     []string  `gorm:"column:board;serializer:json;type:text;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	Winner    *string   `gorm:"column:winner;size:16"`
}

func (roomRow) TableName() string { return "rooms" }

type playerRow struct {
	ConnectionID string `gorm:"column:connection_id;primaryKey;size:64"`
	Username     string `gorm:"column:username;not null"`
	RoomID       string `gorm:"column:room_id;index;not null;size:16"`
	Symbol       string `gorm:"column:symbol;not null;size:1"`
}

func (playerRow) TableName() string { return "players" }

func (r roomRow) record() (store.RoomRecord, error) {
	board, err := engine.BoardFromStrings(r.Board)
	if err != nil {
		return store.RoomRecord{}, err
	}
	rec := store.RoomRecord{RoomID: r.RoomID, CreatedAt: r.CreatedAt, Board: board, Active: r.Active}
	if r.Winner != nil {
		w := engine.Outcome(*r.Winner)
		rec.Winner = &w
	}
	return rec, nil
}

func (p playerRow) record() store.PlayerRecord {
	return store.PlayerRecord{
		ConnectionID: p.ConnectionID,
		Username:     p.Username,
		RoomID:       p.RoomID,
		Symbol:       engine.Symbol(p.Symbol),
	}
}
