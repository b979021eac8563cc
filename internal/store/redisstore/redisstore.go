// Package redisstore persists rooms and seats in Redis. Multi-key updates
// run as Lua scripts so each store operation is atomic on the server.
//
// The scripts build their key names from ARGV under the store prefix
// instead of declaring them in KEYS, so the store needs a single-node
// Redis (or a replicated primary). Redis Cluster is not supported.
package redisstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
)

const defaultPrefix = "ttt:"

type Store struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open parses a redis:// URL and verifies the connection.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	s := New(redis.NewClient(opts), defaultPrefix, logger)
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client. Every key is namespaced under prefix.
func New(rdb *redis.Client, prefix string, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, prefix: prefix, logger: logger.With(zap.String("module", "redisstore"))}
}

func (s *Store) roomKey(id string) string     { return s.prefix + "room:" + id }
func (s *Store) seatsKey(id string) string    { return s.prefix + "room:" + id + ":players" }
func (s *Store) playerKey(conn string) string { return s.prefix + "player:" + conn }
func (s *Store) roomIndex() string            { return s.prefix + "rooms" }
func (s *Store) playerIndex() string          { return s.prefix + "players" }

func (s *Store) CreateRoom(ctx context.Context, roomID string) error {
	board, err := encodeBoard(engine.Board{})
	if err != nil {
		return err
	}
	created := time.Now().UTC().Format(time.RFC3339Nano)
	ok, err := createRoomScript.Run(ctx, s.rdb,
		[]string{s.roomKey(roomID), s.roomIndex()},
		roomID, created, board,
	).Int()
	if err != nil {
		return fmt.Errorf("create room %s: %w", roomID, err)
	}
	if ok == 0 {
		return fmt.Errorf("room %s: %w", roomID, store.ErrConstraint)
	}
	return nil
}

func (s *Store) AddPlayer(ctx context.Context, p store.PlayerRecord) error {
	res, err := addPlayerScript.Run(ctx, s.rdb,
		[]string{s.roomKey(p.RoomID), s.seatsKey(p.RoomID), s.playerKey(p.ConnectionID), s.playerIndex()},
		p.ConnectionID, p.Username, p.RoomID, string(p.Symbol),
	).Int()
	if err != nil {
		return fmt.Errorf("add player %s: %w", p.ConnectionID, err)
	}
	switch res {
	case -1:
		return fmt.Errorf("player %s: %w", p.ConnectionID, store.ErrConstraint)
	case -2:
		return fmt.Errorf("player %s references room %s: %w", p.ConnectionID, p.RoomID, store.ErrConstraint)
	}
	return nil
}

func (s *Store) GetRoomWithPlayers(ctx context.Context, roomID string) (*store.RoomWithPlayers, error) {
	fields, err := s.rdb.HGetAll(ctx, s.roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec, err := decodeRoom(roomID, fields)
	if err != nil {
		return nil, err
	}

	conns, err := s.rdb.SMembers(ctx, s.seatsKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get seats of %s: %w", roomID, err)
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(conns))
	for i, conn := range conns {
		cmds[i] = pipe.HGetAll(ctx, s.playerKey(conn))
	}
	if len(conns) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("get players of %s: %w", roomID, err)
		}
	}

	out := &store.RoomWithPlayers{Room: rec}
	for i, cmd := range cmds {
		f := cmd.Val()
		if len(f) == 0 {
			continue
		}
		out.Players = append(out.Players, store.PlayerRecord{
			ConnectionID: conns[i],
			Username:     f["username"],
			RoomID:       f["room_id"],
			Symbol:       engine.Symbol(f["symbol"]),
		})
	}
	slices.SortFunc(out.Players, func(a, b store.PlayerRecord) int {
		return cmp.Or(cmp.Compare(b.Symbol, a.Symbol), cmp.Compare(a.ConnectionID, b.ConnectionID))
	})
	return out, nil
}

func (s *Store) RemovePlayer(ctx context.Context, connectionID string) error {
	err := removePlayerScript.Run(ctx, s.rdb,
		[]string{s.playerKey(connectionID), s.playerIndex()},
		connectionID, s.prefix,
	).Err()
	if err != nil {
		return fmt.Errorf("remove player %s: %w", connectionID, err)
	}
	return nil
}

func (s *Store) DeleteRoomIfEmpty(ctx context.Context, roomID string) (store.CleanupResult, error) {
	res, err := deleteIfEmptyScript.Run(ctx, s.rdb,
		[]string{s.roomKey(roomID), s.seatsKey(roomID), s.roomIndex()},
		roomID,
	).Text()
	if err != nil {
		return "", fmt.Errorf("cleanup room %s: %w", roomID, err)
	}
	return store.CleanupResult(res), nil
}

func (s *Store) UpdateBoard(ctx context.Context, roomID string, board engine.Board) error {
	encoded, err := encodeBoard(board)
	if err != nil {
		return err
	}
	return s.updateRoom(ctx, roomID, "board", encoded)
}

func (s *Store) GetBoard(ctx context.Context, roomID string) (engine.Board, error) {
	raw, err := s.rdb.HGet(ctx, s.roomKey(roomID), "board").Result()
	if err == redis.Nil {
		return engine.Board{}, fmt.Errorf("room %s: %w", roomID, store.ErrNotFound)
	}
	if err != nil {
		return engine.Board{}, fmt.Errorf("get board of %s: %w", roomID, err)
	}
	return decodeBoard(raw)
}

func (s *Store) RecordWinner(ctx context.Context, roomID string, outcome engine.Outcome) error {
	return s.updateRoom(ctx, roomID, "winner", string(outcome), "active", "0")
}

func (s *Store) ResetGame(ctx context.Context, roomID string) error {
	board, err := encodeBoard(engine.Board{})
	if err != nil {
		return err
	}
	return s.updateRoom(ctx, roomID, "board", board, "winner", "", "active", "1")
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	rooms, err := s.rdb.SMembers(ctx, s.roomIndex()).Result()
	if err != nil {
		return st, fmt.Errorf("list rooms: %w", err)
	}
	st.Rooms = int64(len(rooms))

	if st.Players, err = s.rdb.SCard(ctx, s.playerIndex()).Result(); err != nil {
		return st, fmt.Errorf("count players: %w", err)
	}
	if len(rooms) == 0 {
		return st, nil
	}

	pipe := s.rdb.Pipeline()
	cards := make([]*redis.IntCmd, len(rooms))
	for i, id := range rooms {
		cards[i] = pipe.SCard(ctx, s.seatsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return st, fmt.Errorf("count seats: %w", err)
	}
	for _, c := range cards {
		if c.Val() == 2 {
			st.FullRooms++
		}
	}
	return st, nil
}

func (s *Store) CleanupOrphans(ctx context.Context) (int64, error) {
	n, err := cleanupOrphansScript.Run(ctx, s.rdb, []string{s.playerIndex()}, s.prefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("cleanup orphans: %w", err)
	}
	if n > 0 {
		s.logger.Info("removed orphaned seats", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) updateRoom(ctx context.Context, roomID string, fieldValues ...any) error {
	ok, err := updateRoomScript.Run(ctx, s.rdb, []string{s.roomKey(roomID)}, fieldValues...).Int()
	if err != nil {
		return fmt.Errorf("update room %s: %w", roomID, err)
	}
	if ok == 0 {
		return fmt.Errorf("room %s: %w", roomID, store.ErrNotFound)
	}
	return nil
}

func encodeBoard(b engine.Board) (string, error) {
	raw, err := json.Marshal(b.Strings())
	if err != nil {
		return "", fmt.Errorf("encode board: %w", err)
	}
	return string(raw), nil
}

func decodeBoard(raw string) (engine.Board, error) {
	var cells []string
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return engine.Board{}, fmt.Errorf("decode board: %w", err)
	}
	return engine.BoardFromStrings(cells)
}

func decodeRoom(roomID string, f map[string]string) (store.RoomRecord, error) {
	board, err := decodeBoard(f["board"])
	if err != nil {
		return store.RoomRecord{}, fmt.Errorf("room %s: %w", roomID, err)
	}
	created, err := time.Parse(time.RFC3339Nano, f["created_at"])
	if err != nil {
		return store.RoomRecord{}, fmt.Errorf("room %s created_at: %w", roomID, err)
	}
	rec := store.RoomRecord{RoomID: roomID, CreatedAt: created, Board: board, Active: f["active"] == "1"}
	if w := f["winner"]; w != "" {
		outcome := engine.Outcome(w)
		rec.Winner = &outcome
	}
	return rec, nil
}
