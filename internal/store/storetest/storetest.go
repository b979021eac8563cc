// Package storetest is the behavior every store.Store implementation must
// share. Each subtest gets a fresh, empty store from the factory.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
)

type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateRoomRejectsDuplicate", testCreateRoomRejectsDuplicate},
		{"MissingRoomIsZeroRows", testMissingRoomIsZeroRows},
		{"AddPlayerConstraints", testAddPlayerConstraints},
		{"PlayersOrderedXFirst", testPlayersOrderedXFirst},
		{"RemovePlayerIsIdempotent", testRemovePlayerIsIdempotent},
		{"DeleteRoomIfEmpty", testDeleteRoomIfEmpty},
		{"DeleteRoomIfEmptyRace", testDeleteRoomIfEmptyRace},
		{"BoardRoundTrip", testBoardRoundTrip},
		{"BoardOpsOnMissingRoom", testBoardOpsOnMissingRoom},
		{"WinnerAndReset", testWinnerAndReset},
		{"Stats", testStats},
		{"CleanupOrphans", testCleanupOrphans},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func seat(conn, room string, sym engine.Symbol) store.PlayerRecord {
	return store.PlayerRecord{ConnectionID: conn, Username: "user-" + conn, RoomID: room, Symbol: sym}
}

func testCreateRoomRejectsDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, "AB12CD"))
	assert.ErrorIs(t, s.CreateRoom(ctx, "AB12CD"), store.ErrConstraint)

	got, err := s.GetRoomWithPlayers(ctx, "AB12CD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "AB12CD", got.Room.RoomID)
	assert.True(t, got.Room.Active)
	assert.Nil(t, got.Room.Winner)
	assert.Equal(t, engine.Board{}, got.Room.Board)
	assert.False(t, got.Room.CreatedAt.IsZero())
	assert.Empty(t, got.Players)
}

func testMissingRoomIsZeroRows(t *testing.T, s store.Store) {
	got, err := s.GetRoomWithPlayers(context.Background(), "NOPE00")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testAddPlayerConstraints(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, "ROOM01"))
	require.NoError(t, s.AddPlayer(ctx, seat("c1", "ROOM01", engine.X)))

	assert.ErrorIs(t, s.AddPlayer(ctx, seat("c1", "ROOM01", engine.O)), store.ErrConstraint)
	assert.ErrorIs(t, s.AddPlayer(ctx, seat("c2", "GHOST0", engine.O)), store.ErrConstraint)

	got, err := s.GetRoomWithPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	require.Len(t, got.Players, 1)
	assert.Equal(t, seat("c1", "ROOM01", engine.X), got.Players[0])
}

func testPlayersOrderedXFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, "ROOM01"))
	require.NoError(t, s.AddPlayer(ctx, seat("zzz", "ROOM01", engine.X)))
	require.NoError(t, s.AddPlayer(ctx, seat("aaa", "ROOM01", engine.O)))

	got, err := s.GetRoomWithPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	require.Len(t, got.Players, 2)
	assert.Equal(t, engine.X, got.Players[0].Symbol)
	assert.Equal(t, engine.O, got.Players[1].Symbol)
}

func testRemovePlayerIsIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, "ROOM01"))
	require.NoError(t, s.AddPlayer(ctx, seat("c1", "ROOM01", engine.X)))

	require.NoError(t, s.RemovePlayer(ctx, "c1"))
	require.NoError(t, s.RemovePlayer(ctx, "c1"))
	require.NoError(t, s.RemovePlayer(ctx, "never-seated"))

	got, err := s.GetRoomWithPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Empty(t, got.Players)
}

func testDeleteRoomIfEmpty(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, "ROOM01"))
	require.NoError(t, s.AddPlayer(ctx, seat("c1", "ROOM01", engine.X)))

	res, err := s.DeleteRoomIfEmpty(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, store.CleanupRetained, res)
	got, err := s.GetRoomWithPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Players, 1)

	require.NoError(t, s.RemovePlayer(ctx, "c1"))
	res, err = s.DeleteRoomIfEmpty(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, store.CleanupDeleted, res)

	res, err = s.DeleteRoomIfEmpty(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, store.CleanupNotFound, res)

	got, err = s.GetRoomWithPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testDeleteRoomIfEmptyRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, "ROOM01"))

	const callers = 8
	results := make([]store.CleanupResult, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.DeleteRoomIfEmpty(ctx, "ROOM01")
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	deleted := 0
	for _, r := range results {
		assert.NotEqual(t, store.CleanupRetained, r)
		if r == store.CleanupDeleted {
			deleted++
		}
	}
	assert.Equal(t, 1, deleted, "exactly one caller deletes: %v", results)
}

func testBoardRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, "ROOM01"))

	board := engine.Board{engine.X, engine.Empty, engine.O, engine.Empty, engine.X}
	require.NoError(t, s.UpdateBoard(ctx, "ROOM01", board))

	got, err := s.GetBoard(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, board, got)

	full, err := s.GetRoomWithPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, board, full.Room.Board)
}

func testBoardOpsOnMissingRoom(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetBoard(ctx, "NOPE00")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateBoard(ctx, "NOPE00", engine.Board{}), store.ErrNotFound)
	assert.ErrorIs(t, s.RecordWinner(ctx, "NOPE00", engine.Draw), store.ErrNotFound)
	assert.ErrorIs(t, s.ResetGame(ctx, "NOPE00"), store.ErrNotFound)
}

func testWinnerAndReset(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, "ROOM01"))
	require.NoError(t, s.UpdateBoard(ctx, "ROOM01", engine.Board{engine.O, engine.O, engine.O}))
	require.NoError(t, s.RecordWinner(ctx, "ROOM01", engine.OWins))

	got, err := s.GetRoomWithPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	require.NotNil(t, got.Room.Winner)
	assert.Equal(t, engine.OWins, *got.Room.Winner)
	assert.False(t, got.Room.Active)

	require.NoError(t, s.ResetGame(ctx, "ROOM01"))
	got, err = s.GetRoomWithPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Nil(t, got.Room.Winner)
	assert.True(t, got.Room.Active)
	assert.Equal(t, engine.Board{}, got.Room.Board)
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, s.CreateRoom(ctx, fmt.Sprintf("ROOM0%d", i)))
	}
	require.NoError(t, s.AddPlayer(ctx, seat("a", "ROOM00", engine.X)))
	require.NoError(t, s.AddPlayer(ctx, seat("b", "ROOM00", engine.O)))
	require.NoError(t, s.AddPlayer(ctx, seat("c", "ROOM01", engine.X)))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Stats{Rooms: 3, Players: 3, FullRooms: 1}, st)
}

func testCleanupOrphans(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, "ROOM01"))
	require.NoError(t, s.AddPlayer(ctx, seat("a", "ROOM01", engine.X)))

	n, err := s.CleanupOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.GetRoomWithPlayers(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Len(t, got.Players, 1)
}

func testPing(t *testing.T, s store.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
