package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
	"github.com/DoyleJ11/tictactoe-backend/internal/metrics"
	"github.com/DoyleJ11/tictactoe-backend/internal/registry"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
	"github.com/DoyleJ11/tictactoe-backend/internal/store/memstore"
	"github.com/DoyleJ11/tictactoe-backend/internal/types"
)

// recorder is an in-memory Transport that keeps every message per connection.
type recorder struct {
	mu      sync.Mutex
	rooms   map[string]map[string]bool
	members map[string]string
	got     map[string][]types.ServerMessage
}

func newRecorder() *recorder {
	return &recorder{
		rooms:   make(map[string]map[string]bool),
		members: make(map[string]string),
		got:     make(map[string][]types.ServerMessage),
	}
}

func (r *recorder) Join(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]bool)
	}
	r.rooms[roomID][connID] = true
	r.members[connID] = roomID
}

func (r *recorder) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roomID, ok := r.members[connID]; ok {
		delete(r.rooms[roomID], connID)
		delete(r.members, connID)
	}
}

func (r *recorder) Emit(connID string, msg types.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got[connID] = append(r.got[connID], msg)
}

func (r *recorder) EmitRoom(roomID string, msg types.ServerMessage) {
	r.EmitRoomExcept(roomID, "", msg)
}

func (r *recorder) EmitRoomExcept(roomID, except string, msg types.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.rooms[roomID] {
		if connID != except {
			r.got[connID] = append(r.got[connID], msg)
		}
	}
}

func (r *recorder) messages(connID string) []types.ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ServerMessage(nil), r.got[connID]...)
}

func (r *recorder) events(connID string) []string {
	var out []string
	for _, m := range r.messages(connID) {
		out = append(out, m.Event)
	}
	return out
}

func (r *recorder) last(connID string) types.ServerMessage {
	msgs := r.messages(connID)
	if len(msgs) == 0 {
		return types.ServerMessage{}
	}
	return msgs[len(msgs)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.got)
}

// flakyStore fails the named operations. afterRemove, when set, runs once
// a seat has been deleted.
type flakyStore struct {
	store.Store
	fail        map[string]error
	afterRemove func(connID string)

	mu      sync.Mutex
	winners []engine.Outcome
}

func (f *flakyStore) RemovePlayer(ctx context.Context, connID string) error {
	if err := f.Store.RemovePlayer(ctx, connID); err != nil {
		return err
	}
	if f.afterRemove != nil {
		f.afterRemove(connID)
	}
	return nil
}

func (f *flakyStore) RecordWinner(ctx context.Context, id string, o engine.Outcome) error {
	f.mu.Lock()
	f.winners = append(f.winners, o)
	f.mu.Unlock()
	return f.Store.RecordWinner(ctx, id, o)
}

func (f *flakyStore) recordedWinners() []engine.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Outcome(nil), f.winners...)
}

var errInjected = errors.New("injected store failure")

func (f *flakyStore) AddPlayer(ctx context.Context, p store.PlayerRecord) error {
	if err := f.fail["AddPlayer"]; err != nil {
		return err
	}
	return f.Store.AddPlayer(ctx, p)
}

func (f *flakyStore) CreateRoom(ctx context.Context, id string) error {
	if err := f.fail["CreateRoom"]; err != nil {
		return err
	}
	return f.Store.CreateRoom(ctx, id)
}

func (f *flakyStore) UpdateBoard(ctx context.Context, id string, b engine.Board) error {
	if err := f.fail["UpdateBoard"]; err != nil {
		return err
	}
	return f.Store.UpdateBoard(ctx, id, b)
}

func (f *flakyStore) DeleteRoomIfEmpty(ctx context.Context, id string) (store.CleanupResult, error) {
	if err := f.fail["DeleteRoomIfEmpty"]; err != nil {
		return "", err
	}
	return f.Store.DeleteRoomIfEmpty(ctx, id)
}

type fixture struct {
	engine  *Engine
	store   *flakyStore
	rooms   *registry.Registry
	wire    *recorder
	metrics *metrics.Metrics
}

type option func(*Deps)

func strict(d *Deps) { d.Strict = true }

func ids(seq ...string) option {
	return func(d *Deps) {
		var mu sync.Mutex
		d.IDGen = func() (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(seq) == 0 {
				return "", errors.New("id sequence exhausted")
			}
			id := seq[0]
			if len(seq) > 1 {
				seq = seq[1:]
			}
			return id, nil
		}
	}
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	rooms := registry.New(context.Background(), zap.NewNop())
	t.Cleanup(rooms.Shutdown)

	st := &flakyStore{Store: memstore.New(), fail: map[string]error{}}
	wire := newRecorder()
	m := metrics.New(prometheus.NewRegistry())
	deps := Deps{Store: st, Rooms: rooms, Transport: wire, Metrics: m, Logger: zap.NewNop()}
	ids("AB12CD")(&deps)
	for _, o := range opts {
		o(&deps)
	}
	return &fixture{engine: New(deps), store: st, rooms: rooms, wire: wire, metrics: m}
}

func (f *fixture) send(t *testing.T, connID, event string, data any) {
	t.Helper()
	msg := types.ClientMessage{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		msg.Data = raw
	}
	f.engine.HandleMessage(context.Background(), connID, msg)
}

func (f *fixture) create(t *testing.T, connID, name string) {
	t.Helper()
	f.send(t, connID, types.EventCreateRoom, types.CreateRoomPayload{Username: name})
}

func (f *fixture) join(t *testing.T, connID, name, roomID string) {
	t.Helper()
	f.send(t, connID, types.EventJoinRoom, types.JoinRoomPayload{Username: name, RoomID: roomID})
}

func (f *fixture) move(t *testing.T, connID string, index int, symbol, room string) {
	t.Helper()
	f.send(t, connID, types.EventMove, types.MovePayload{Index: &index, Symbol: symbol, Room: room})
}

// seatTwo runs scenarios A and B: c1 creates AB12CD, c2 joins it.
func (f *fixture) seatTwo(t *testing.T) {
	t.Helper()
	f.create(t, "c1", "alice")
	f.join(t, "c2", "bob", "AB12CD")
	f.wire.reset()
}

func errorCodeOf(t *testing.T, msg types.ServerMessage) string {
	t.Helper()
	require.Equal(t, types.EventError, msg.Event)
	p, ok := msg.Data.(types.ErrorPayload)
	require.True(t, ok, "error payload type %T", msg.Data)
	return p.Code
}

func durable(t *testing.T, f *fixture, roomID string) *store.RoomWithPlayers {
	t.Helper()
	rec, err := f.store.GetRoomWithPlayers(context.Background(), roomID)
	require.NoError(t, err)
	return rec
}

func TestScenarioA_CreateRoom(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", "alice")

	msgs := f.wire.messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, types.EventRoomCreated, msgs[0].Event)
	assert.Equal(t, types.RoomCreatedPayload{RoomID: "AB12CD"}, msgs[0].Data)
	assert.Equal(t, types.EventPlayerAssigned, msgs[1].Event)
	assert.Equal(t, engine.X, msgs[1].Data)

	room, err := f.rooms.GetRoom(context.Background(), "AB12CD")
	require.NoError(t, err)
	assert.Len(t, room.Seats, 1)
	assert.Equal(t, engine.Board{}, room.Board)
	assert.Equal(t, registry.AwaitingSecondPlayer, room.Phase)

	rec := durable(t, f, "AB12CD")
	require.NotNil(t, rec)
	require.Len(t, rec.Players, 1)
	assert.Equal(t, store.PlayerRecord{ConnectionID: "c1", Username: "alice", RoomID: "AB12CD", Symbol: engine.X}, rec.Players[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoomsCreated))
}

func TestScenarioB_JoinSeesBoardAndStarts(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", "alice")
	f.move(t, "c1", 0, "X", "AB12CD")
	f.wire.reset()

	f.join(t, "c2", "bob", "  ab12cd ")

	msgs := f.wire.messages("c2")
	require.Len(t, msgs, 3)
	assert.Equal(t, types.EventJoinedRoom, msgs[0].Event)
	joined := msgs[0].Data.(types.JoinedRoomPayload)
	assert.Equal(t, "AB12CD", joined.RoomID)
	assert.Equal(t, []string{"X", "", "", "", "", "", "", "", ""}, joined.GameState)
	assert.Equal(t, types.EventPlayerAssigned, msgs[1].Event)
	assert.Equal(t, engine.O, msgs[1].Data)
	assert.Equal(t, types.EventStartGame, msgs[2].Event)

	assert.Equal(t, []string{types.EventStartGame}, f.wire.events("c1"))

	room, err := f.rooms.GetRoom(context.Background(), "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, registry.InProgress, room.Phase)
	assert.Len(t, room.Seats, 2)
}

func TestScenarioC_ThirdJoinerGetsRoomFull(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	f.join(t, "c3", "carol", "AB12CD")

	assert.Equal(t, []string{types.EventRoomFull}, f.wire.events("c3"))
	assert.Empty(t, f.wire.events("c1"))
	assert.Len(t, durable(t, f, "AB12CD").Players, 2)
	room, _ := f.rooms.GetRoom(context.Background(), "AB12CD")
	assert.Len(t, room.Seats, 2)
}

func TestScenarioD_MoveIsRelayedAndPersisted(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	f.move(t, "c1", 4, "X", "AB12CD")

	assert.Empty(t, f.wire.messages("c1"))
	msgs := f.wire.messages("c2")
	require.Len(t, msgs, 1)
	assert.Equal(t, types.EventMove, msgs[0].Event)
	relayed := msgs[0].Data.(types.MovePayload)
	require.NotNil(t, relayed.Index)
	assert.Equal(t, 4, *relayed.Index)
	assert.Equal(t, "X", relayed.Symbol)
	assert.Empty(t, relayed.Room)

	board, err := f.store.GetBoard(context.Background(), "AB12CD")
	require.NoError(t, err)
	assert.Equal(t, engine.X, board[4])
}

func TestScenarioE_LastOccupantLeavingDeletesRoom(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", "alice")

	f.engine.Disconnect(context.Background(), "c1")

	assert.Nil(t, durable(t, f, "AB12CD"))
	_, err := f.rooms.GetRoom(context.Background(), "AB12CD")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, ok, _ := f.rooms.Name(context.Background(), "c1")
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoomsDeleted))

	f.join(t, "c2", "bob", "AB12CD")
	assert.Equal(t, []string{types.EventInvalidRoom}, f.wire.events("c2"))
}

func TestScenarioF_OpponentLeavingKeepsRoom(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	f.engine.Disconnect(context.Background(), "c2")

	assert.Equal(t, []string{types.EventPlayerDisconnected}, f.wire.events("c1"))
	assert.Empty(t, f.wire.events("c2"))
	rec := durable(t, f, "AB12CD")
	require.NotNil(t, rec)
	assert.Len(t, rec.Players, 1)
	room, err := f.rooms.GetRoom(context.Background(), "AB12CD")
	require.NoError(t, err)
	assert.Len(t, room.Seats, 1)
	assert.Equal(t, registry.AwaitingSecondPlayer, room.Phase)
}

func TestJoin_VacatedXSeatIsReassigned(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)
	f.engine.Disconnect(context.Background(), "c1")

	f.join(t, "c3", "carol", "AB12CD")

	msgs := f.wire.messages("c3")
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, engine.X, msgs[1].Data)
}

func TestJoin_HydratesFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A room that outlived the process: durable only.
	require.NoError(t, f.store.CreateRoom(ctx, "ZZ99ZZ"))
	require.NoError(t, f.store.AddPlayer(ctx, store.PlayerRecord{ConnectionID: "old", Username: "ann", RoomID: "ZZ99ZZ", Symbol: engine.X}))
	require.NoError(t, f.store.UpdateBoard(ctx, "ZZ99ZZ", engine.Board{engine.X}))

	f.join(t, "c2", "bob", "zz99zz")

	joined := f.wire.messages("c2")[0].Data.(types.JoinedRoomPayload)
	assert.Equal(t, "X", joined.GameState[0])
	assert.Equal(t, engine.O, f.wire.messages("c2")[1].Data)

	room, err := f.rooms.GetRoom(ctx, "ZZ99ZZ")
	require.NoError(t, err)
	assert.Equal(t, engine.X, room.Board[0])
	require.Len(t, room.Seats, 2)
	assert.Equal(t, "old", room.Seats[0].ConnID)
	assert.Equal(t, registry.InProgress, room.Phase)
}

func TestJoin_InvalidInputs(t *testing.T) {
	f := newFixture(t)

	f.join(t, "c2", "bob", "NOPE00")
	assert.Equal(t, []string{types.EventInvalidRoom}, f.wire.events("c2"))

	f.join(t, "c3", "bob", "   ")
	assert.Equal(t, []string{types.EventInvalidRoom}, f.wire.events("c3"))

	f.join(t, "c4", "  ", "AB12CD")
	assert.Equal(t, types.CodeBadRequest, errorCodeOf(t, f.wire.last("c4")))
}

func TestJoin_ConcurrentJoinersNeverExceedTwoSeats(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", "alice")

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.join(t, fmt.Sprintf("j%d", i), "joiner", "AB12CD")
		}()
	}
	wg.Wait()

	assert.Len(t, durable(t, f, "AB12CD").Players, 2)
	room, err := f.rooms.GetRoom(context.Background(), "AB12CD")
	require.NoError(t, err)
	assert.Len(t, room.Seats, 2)

	full := 0
	for i := range 6 {
		if f.wire.last(fmt.Sprintf("j%d", i)).Event == types.EventRoomFull {
			full++
		}
	}
	assert.Equal(t, 5, full)
}

func TestJoin_StoreFailureReportsJoinFailed(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", "alice")
	f.store.fail["AddPlayer"] = errInjected

	f.join(t, "c2", "bob", "AB12CD")

	assert.Equal(t, types.CodeJoinFailed, errorCodeOf(t, f.wire.last("c2")))
	room, _ := f.rooms.GetRoom(context.Background(), "AB12CD")
	assert.Len(t, room.Seats, 1)
}

func TestCreate_RegeneratesOnCollision(t *testing.T) {
	f := newFixture(t, ids("TAKEN1", "TAKEN1", "FRESH1"))
	require.NoError(t, f.store.CreateRoom(context.Background(), "TAKEN1"))

	f.create(t, "c1", "alice")

	assert.Equal(t, types.RoomCreatedPayload{RoomID: "FRESH1"}, f.wire.messages("c1")[0].Data)
	assert.Empty(t, durable(t, f, "TAKEN1").Players, "existing room must not be overwritten")
}

func TestCreate_RegeneratesOnInMemoryCollision(t *testing.T) {
	f := newFixture(t, ids("LIVE01", "FRESH1"))
	_, err := f.rooms.CreateRoom(context.Background(), "LIVE01", engine.Board{})
	require.NoError(t, err)

	f.create(t, "c1", "alice")

	assert.Equal(t, types.RoomCreatedPayload{RoomID: "FRESH1"}, f.wire.messages("c1")[0].Data)
}

func TestCreate_GivesUpAfterBoundedAttempts(t *testing.T) {
	f := newFixture(t, ids("TAKEN1"))
	require.NoError(t, f.store.CreateRoom(context.Background(), "TAKEN1"))

	f.create(t, "c1", "alice")

	assert.Equal(t, types.CodeCreateFailed, errorCodeOf(t, f.wire.last("c1")))
	n, _ := f.rooms.Len(context.Background())
	assert.Zero(t, n)
}

func TestCreate_PersistenceFailureLeavesNothingBehind(t *testing.T) {
	tests := []struct {
		name string
		op   string
	}{
		{name: "room insert fails", op: "CreateRoom"},
		{name: "seat insert fails", op: "AddPlayer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.store.fail[tt.op] = errInjected

			f.create(t, "c1", "alice")

			assert.Equal(t, []string{types.EventError}, f.wire.events("c1"))
			assert.Equal(t, types.CodeCreateFailed, errorCodeOf(t, f.wire.last("c1")))
			n, _ := f.rooms.Len(context.Background())
			assert.Zero(t, n)
			assert.Nil(t, durable(t, f, "AB12CD"))
		})
	}
}

func TestCreate_RejectsSecondRoomForSameConnection(t *testing.T) {
	f := newFixture(t, ids("ROOM01", "ROOM02"))
	f.create(t, "c1", "alice")
	f.create(t, "c1", "alice")

	assert.Equal(t, types.CodeAlreadySeated, errorCodeOf(t, f.wire.last("c1")))
	n, _ := f.rooms.Len(context.Background())
	assert.Equal(t, 1, n)
}

func TestCreate_RejectsBadUsername(t *testing.T) {
	tests := []string{"", "   ", "this-name-is-definitely-longer-than-36-characters"}
	for _, name := range tests {
		f := newFixture(t)
		f.create(t, "c1", name)
		assert.Equal(t, types.CodeBadRequest, errorCodeOf(t, f.wire.last("c1")), "name %q", name)
	}
}

func TestMove_SaveFailureStillRelays(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)
	f.store.fail["UpdateBoard"] = errInjected

	f.move(t, "c1", 4, "X", "AB12CD")

	assert.Equal(t, types.CodeMoveSaveFailed, errorCodeOf(t, f.wire.last("c1")))
	assert.Equal(t, []string{types.EventMove}, f.wire.events("c2"))

	room, _ := f.rooms.GetRoom(context.Background(), "AB12CD")
	assert.Equal(t, engine.X, room.Board[4], "in-memory move is kept")
	board, _ := f.store.GetBoard(context.Background(), "AB12CD")
	assert.Equal(t, engine.Empty, board[4])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreFailures.WithLabelValues("update_board")))
}

func TestMove_UnknownRoomIsDropped(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	f.move(t, "c1", 0, "X", "GHOST0")

	assert.Empty(t, f.wire.messages("c1"))
	assert.Empty(t, f.wire.messages("c2"))
}

func TestMove_RoomResolvedFromSeatWhenOmitted(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	f.move(t, "c1", 2, "X", "")

	assert.Equal(t, []string{types.EventMove}, f.wire.events("c2"))
}

func TestMove_Malformed(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	f.move(t, "c1", 9, "X", "AB12CD")
	assert.Equal(t, types.CodeBadRequest, errorCodeOf(t, f.wire.last("c1")))

	f.move(t, "c1", 0, "Z", "AB12CD")
	assert.Equal(t, types.CodeBadRequest, errorCodeOf(t, f.wire.last("c1")))

	f.send(t, "c1", types.EventMove, map[string]any{"symbol": "X", "room": "AB12CD"})
	assert.Equal(t, types.CodeBadRequest, errorCodeOf(t, f.wire.last("c1")))

	assert.Empty(t, f.wire.messages("c2"))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.ProtocolViolations))
}

func TestMove_RelayModeTrustsClient(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	// O moves first and then overwrites a taken cell; both are relayed.
	f.move(t, "c2", 0, "O", "AB12CD")
	f.move(t, "c2", 0, "X", "AB12CD")

	assert.Equal(t, []string{types.EventMove, types.EventMove}, f.wire.events("c1"))
	board, _ := f.store.GetBoard(context.Background(), "AB12CD")
	assert.Equal(t, engine.X, board[0])
}

func TestMove_StrictModeRejects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		conn  string
		index int
		sym   string
	}{
		{name: "out of turn", conn: "c2", index: 0, sym: "O"},
		{name: "symbol not owned", conn: "c2", index: 0, sym: "X"},
		{
			name:  "occupied cell",
			setup: func(t *testing.T, f *fixture) { f.move(t, "c1", 4, "X", "AB12CD") },
			conn:  "c2", index: 4, sym: "O",
		},
		{name: "not seated", conn: "c9", index: 0, sym: "X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, strict)
			f.seatTwo(t)
			if tt.setup != nil {
				tt.setup(t, f)
				f.wire.reset()
			}

			f.move(t, tt.conn, tt.index, tt.sym, "AB12CD")

			assert.Equal(t, types.CodeProtocolViolation, errorCodeOf(t, f.wire.last(tt.conn)))
			other := "c1"
			if tt.conn == "c1" {
				other = "c2"
			}
			assert.Empty(t, f.wire.messages(other))
		})
	}
}

func TestMove_StrictModeRejectsBeforeSecondPlayer(t *testing.T) {
	f := newFixture(t, strict)
	f.create(t, "c1", "alice")

	f.move(t, "c1", 0, "X", "AB12CD")

	assert.Equal(t, types.CodeProtocolViolation, errorCodeOf(t, f.wire.last("c1")))
}

func TestMove_WinIsRecorded(t *testing.T) {
	f := newFixture(t, strict)
	f.seatTwo(t)

	for _, m := range []struct {
		conn  string
		index int
		sym   string
	}{
		{"c1", 0, "X"}, {"c2", 3, "O"}, {"c1", 1, "X"}, {"c2", 4, "O"}, {"c1", 2, "X"},
	} {
		f.move(t, m.conn, m.index, m.sym, "AB12CD")
	}

	rec := durable(t, f, "AB12CD")
	require.NotNil(t, rec.Room.Winner)
	assert.Equal(t, engine.XWins, *rec.Room.Winner)
	assert.False(t, rec.Room.Active)
	room, _ := f.rooms.GetRoom(context.Background(), "AB12CD")
	assert.Equal(t, registry.Concluded, room.Phase)

	// No further play in a concluded room.
	f.move(t, "c2", 5, "O", "AB12CD")
	assert.Equal(t, types.CodeProtocolViolation, errorCodeOf(t, f.wire.last("c2")))
}

func TestMove_WinnerRecordedOnce(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	// Relay mode keeps accepting moves after the win; none of them may
	// overwrite the recorded result.
	for _, m := range []struct {
		conn  string
		index int
		sym   string
	}{
		{"c1", 0, "X"}, {"c2", 3, "O"}, {"c1", 1, "X"}, {"c2", 4, "O"}, {"c1", 2, "X"},
		{"c2", 5, "O"}, {"c2", 8, "O"},
	} {
		f.move(t, m.conn, m.index, m.sym, "AB12CD")
	}

	assert.Equal(t, []engine.Outcome{engine.XWins}, f.store.recordedWinners())
	room, _ := f.rooms.GetRoom(context.Background(), "AB12CD")
	assert.Equal(t, engine.XWins, room.Winner)
}

func TestMove_StrictModeUsesParityOnHydratedBoard(t *testing.T) {
	f := newFixture(t, strict)
	ctx := context.Background()
	require.NoError(t, f.store.CreateRoom(ctx, "DRAW01"))
	require.NoError(t, f.store.AddPlayer(ctx, store.PlayerRecord{ConnectionID: "c1", Username: "a", RoomID: "DRAW01", Symbol: engine.X}))
	require.NoError(t, f.store.UpdateBoard(ctx, "DRAW01", engine.Board{
		engine.X, engine.O, engine.X,
		engine.X, engine.O, engine.O,
		engine.O, engine.X, engine.Empty,
	}))
	f.join(t, "c2", "b", "DRAW01")
	f.wire.reset()

	// Four marks each: X is to move.
	f.move(t, "c2", 8, "O", "DRAW01")
	assert.Equal(t, types.CodeProtocolViolation, errorCodeOf(t, f.wire.last("c2")))
	assert.Contains(t, f.wire.last("c2").Data.(types.ErrorPayload).Message, engine.ErrWrongTurn.Error())

	f.wire.reset()
	f.move(t, "c1", 8, "X", "DRAW01")
	assert.Empty(t, f.wire.messages("c1"))
	assert.Equal(t, []string{types.EventMove}, f.wire.events("c2"))
	rec := durable(t, f, "DRAW01")
	require.NotNil(t, rec.Room.Winner)
	assert.Equal(t, engine.Draw, *rec.Room.Winner)

	f.move(t, "c2", 8, "O", "DRAW01")
	assert.Equal(t, types.CodeProtocolViolation, errorCodeOf(t, f.wire.last("c2")))
}

func TestRestart_ResetsBoardEverywhere(t *testing.T) {
	f := newFixture(t, strict)
	f.seatTwo(t)
	f.move(t, "c1", 0, "X", "AB12CD")
	f.move(t, "c2", 4, "O", "AB12CD")
	f.wire.reset()

	f.send(t, "c2", types.EventRestartRequest, nil)

	for _, conn := range []string{"c1", "c2"} {
		msgs := f.wire.messages(conn)
		require.Len(t, msgs, 1, conn)
		assert.Equal(t, types.EventStartGame, msgs[0].Event)
		assert.Equal(t, engine.Board{}.Strings(), msgs[0].Data.(types.StartGamePayload).GameState)
	}
	board, _ := f.store.GetBoard(context.Background(), "AB12CD")
	assert.Equal(t, engine.Board{}, board)
	room, _ := f.rooms.GetRoom(context.Background(), "AB12CD")
	assert.Equal(t, engine.Board{}, room.Board)
	assert.Equal(t, registry.InProgress, room.Phase)

	// X opens the new game.
	f.move(t, "c1", 8, "X", "AB12CD")
	assert.Equal(t, []string{types.EventStartGame}, f.wire.events("c1"))
}

func TestRestart_WithoutRoomIsNoop(t *testing.T) {
	f := newFixture(t)
	f.send(t, "c1", types.EventRestartRequest, nil)
	assert.Empty(t, f.wire.messages("c1"))
}

func TestDisconnect_StoreFailureFallsBackToMemory(t *testing.T) {
	f := newFixture(t)
	f.create(t, "c1", "alice")
	f.store.fail["DeleteRoomIfEmpty"] = errInjected

	f.engine.Disconnect(context.Background(), "c1")

	_, err := f.rooms.GetRoom(context.Background(), "AB12CD")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDisconnect_JoinWaitsForTeardown(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	removed := make(chan struct{})
	release := make(chan struct{})
	f.store.afterRemove = func(connID string) {
		if connID == "c1" {
			close(removed)
			<-release
		}
	}

	left := make(chan struct{})
	go func() {
		defer close(left)
		f.engine.Disconnect(context.Background(), "c1")
	}()
	<-removed

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		f.join(t, "c3", "carol", "AB12CD")
	}()
	close(release)
	<-left
	<-joined

	room, err := f.rooms.GetRoom(context.Background(), "AB12CD")
	require.NoError(t, err)
	require.Len(t, room.Seats, 2)
	assert.NotEqual(t, room.Seats[0].Symbol, room.Seats[1].Symbol)
	assert.Len(t, durable(t, f, "AB12CD").Players, 2)

	assert.Equal(t, []string{types.EventJoinedRoom, types.EventPlayerAssigned, types.EventStartGame}, f.wire.events("c3"))
	assert.Equal(t, engine.X, f.wire.messages("c3")[1].Data, "c3 takes the seat c1 vacated")
	assert.Equal(t, []string{types.EventPlayerDisconnected, types.EventStartGame}, f.wire.events("c2"))
}

func TestDisconnect_ShutdownKeepsDurableRoom(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)
	f.move(t, "c1", 4, "X", "AB12CD")
	f.wire.reset()

	f.engine.BeginShutdown()
	f.engine.Disconnect(context.Background(), "c1")
	f.engine.Disconnect(context.Background(), "c2")

	assert.Empty(t, f.wire.messages("c2"))
	rec := durable(t, f, "AB12CD")
	require.NotNil(t, rec)
	assert.Empty(t, rec.Players)
	assert.Equal(t, engine.X, rec.Room.Board[4])
	_, err := f.rooms.GetRoom(context.Background(), "AB12CD")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Zero(t, testutil.ToFloat64(f.metrics.RoomsDeleted))

	// A fresh process picks the room up with its board.
	next := newFixture(t)
	next.engine.store = f.store
	next.join(t, "c9", "dave", "AB12CD")
	joined := next.wire.messages("c9")[0].Data.(types.JoinedRoomPayload)
	assert.Equal(t, "X", joined.GameState[4])
	assert.Equal(t, engine.X, next.wire.messages("c9")[1].Data)
}

func TestDisconnect_UnknownConnectionIsHarmless(t *testing.T) {
	f := newFixture(t)
	f.seatTwo(t)

	f.engine.Disconnect(context.Background(), "stranger")

	assert.Empty(t, f.wire.messages("c1"))
	assert.Len(t, durable(t, f, "AB12CD").Players, 2)
}

func TestHandleMessage_UnknownEventAndBadPayload(t *testing.T) {
	f := newFixture(t)

	f.send(t, "c1", "dance", nil)
	assert.Equal(t, types.CodeBadRequest, errorCodeOf(t, f.wire.last("c1")))

	f.engine.HandleMessage(context.Background(), "c1", types.ClientMessage{Event: types.EventCreateRoom, Data: json.RawMessage(`[1,2]`)})
	assert.Equal(t, types.CodeBadRequest, errorCodeOf(t, f.wire.last("c1")))
}

func TestGenerateRoomID(t *testing.T) {
	seen := make(map[string]bool)
	for range 200 {
		id, err := GenerateRoomID()
		require.NoError(t, err)
		require.Len(t, id, 6)
		for _, c := range id {
			assert.Contains(t, roomIDCharset, string(c))
		}
		seen[id] = true
	}
	assert.Greater(t, len(seen), 190)
}
