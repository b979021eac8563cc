// Package pgstore persists rooms and seats in PostgreSQL through gorm.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
)

type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and migrates the rooms and players tables.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &Store{db: db, logger: logger.With(zap.String("module", "pgstore"))}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(&roomRow{}, &playerRow{}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) CreateRoom(ctx context.Context, roomID string) error {
	row := roomRow{
		RoomID:    roomID,
		CreatedAt: time.Now().UTC(),
		Board:     engine.Board{}.Strings(),
		Active:    true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate("create room "+roomID, err)
	}
	return nil
}

// AddPlayer takes a share lock on the room row so a concurrent
// DeleteRoomIfEmpty cannot remove the room underneath the new seat.
func (s *Store) AddPlayer(ctx context.Context, p store.PlayerRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room roomRow
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("room_id").
			Where("room_id = ?", p.RoomID).
			Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("seat %s references room %s: %w", p.ConnectionID, p.RoomID, store.ErrConstraint)
		}
		if err != nil {
			return err
		}
		return tx.Create(&playerRow{
			ConnectionID: p.ConnectionID,
			Username:     p.Username,
			RoomID:       p.RoomID,
			Symbol:       string(p.Symbol),
		}).Error
	})
	if err != nil {
		return translate("add player "+p.ConnectionID, err)
	}
	return nil
}

func (s *Store) GetRoomWithPlayers(ctx context.Context, roomID string) (*store.RoomWithPlayers, error) {
	db := s.db.WithContext(ctx)

	var room roomRow
	err := db.Where("room_id = ?", roomID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}

	var players []playerRow
	if err := db.Where("room_id = ?", roomID).Order("symbol DESC, connection_id").Find(&players).Error; err != nil {
		return nil, fmt.Errorf("get players of %s: %w", roomID, err)
	}

	rec, err := room.record()
	if err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	out := &store.RoomWithPlayers{Room: rec}
	for _, p := range players {
		out.Players = append(out.Players, p.record())
	}
	return out, nil
}

func (s *Store) RemovePlayer(ctx context.Context, connectionID string) error {
	err := s.db.WithContext(ctx).Where("connection_id = ?", connectionID).Delete(&playerRow{}).Error
	if err != nil {
		return fmt.Errorf("remove player %s: %w", connectionID, err)
	}
	return nil
}

// DeleteRoomIfEmpty locks the room row before counting, so racing callers
// queue behind each other and only the first one sees an empty room.
func (s *Store) DeleteRoomIfEmpty(ctx context.Context, roomID string) (store.CleanupResult, error) {
	result := store.CleanupNotFound
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room roomRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("room_id").
			Where("room_id = ?", roomID).
			Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var seats int64
		if err := tx.Model(&playerRow{}).Where("room_id = ?", roomID).Count(&seats).Error; err != nil {
			return err
		}
		if seats > 0 {
			result = store.CleanupRetained
			return nil
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&roomRow{}).Error; err != nil {
			return err
		}
		result = store.CleanupDeleted
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("cleanup room %s: %w", roomID, err)
	}
	return result, nil
}

func (s *Store) UpdateBoard(ctx context.Context, roomID string, board engine.Board) error {
	res := s.db.WithContext(ctx).
		Model(&roomRow{}).
		Where("room_id = ?", roomID).
		Select("board").
		Updates(roomRow{Board: board.Strings()})
	return affected("update board of "+roomID, res)
}

func (s *Store) GetBoard(ctx context.Context, roomID string) (engine.Board, error) {
	var room roomRow
	err := s.db.WithContext(ctx).Select("board").Where("room_id = ?", roomID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Board{}, fmt.Errorf("room %s: %w", roomID, store.ErrNotFound)
	}
	if err != nil {
		return engine.Board{}, fmt.Errorf("get board of %s: %w", roomID, err)
	}
	return engine.BoardFromStrings(room.Board)
}

func (s *Store) RecordWinner(ctx context.Context, roomID string, outcome engine.Outcome) error {
	res := s.db.WithContext(ctx).
		Model(&roomRow{}).
		Where("room_id = ?", roomID).
		Updates(map[string]any{"winner": string(outcome), "active": false})
	return affected("record winner of "+roomID, res)
}

func (s *Store) ResetGame(ctx context.Context, roomID string) error {
	res := s.db.WithContext(ctx).
		Model(&roomRow{}).
		Where("room_id = ?", roomID).
		Select("board", "active", "winner").
		Updates(roomRow{Board: engine.Board{}.Strings(), Active: true, Winner: nil})
	return affected("reset room "+roomID, res)
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	db := s.db.WithContext(ctx)
	var st store.Stats

	if err := db.Model(&roomRow{}).Count(&st.Rooms).Error; err != nil {
		return st, fmt.Errorf("count rooms: %w", err)
	}
	if err := db.Model(&playerRow{}).Count(&st.Players).Error; err != nil {
		return st, fmt.Errorf("count players: %w", err)
	}
	full := db.Model(&playerRow{}).
		Select("players.room_id").
		Joins("JOIN rooms ON rooms.room_id = players.room_id").
		Group("players.room_id").
		Having("COUNT(*) = ?", 2)
	if err := db.Table("(?) AS full_rooms", full).Count(&st.FullRooms).Error; err != nil {
		return st, fmt.Errorf("count full rooms: %w", err)
	}
	return st, nil
}

func (s *Store) CleanupOrphans(ctx context.Context) (int64, error) {
	db := s.db.WithContext(ctx)
	res := db.Where("room_id NOT IN (?)", db.Model(&roomRow{}).Select("room_id")).Delete(&playerRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup orphans: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("removed orphaned seats", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(op string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrConstraint, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func affected(op string, res *gorm.DB) error {
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return nil
}
