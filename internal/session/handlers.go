package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/engine"
	"github.com/DoyleJ11/tictactoe-backend/internal/registry"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
	"github.com/DoyleJ11/tictactoe-backend/internal/types"
)

// Create opens a new room seating connID as X and returns the room id.
// Nothing is left registered in memory if persistence fails.
func (e *Engine) Create(ctx context.Context, connID, username string) (string, error) {
	name, ok := normalizeName(username)
	if !ok {
		return "", fmt.Errorf("%w: username must be 1-%d characters", ErrBadRequest, maxNameLength)
	}
	if err := e.ensureUnseated(ctx, connID); err != nil {
		return "", err
	}
	log := e.logger.With(zap.String("conn_id", connID))

	roomID, err := e.reserveRoomID(ctx)
	if err != nil {
		return "", err
	}
	log = log.With(zap.String("room_id", roomID))

	seat := store.PlayerRecord{ConnectionID: connID, Username: name, RoomID: roomID, Symbol: engine.X}
	if err := e.store.AddPlayer(ctx, seat); err != nil {
		e.storeFailed("add_player", err, zap.String("room_id", roomID))
		e.rollbackRoom(ctx, roomID, "")
		return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	if _, err := e.rooms.CreateRoom(ctx, roomID, engine.Board{}); err != nil {
		log.Error("register room", zap.Error(err))
		e.rollbackRoom(ctx, roomID, connID)
		return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	if _, err := e.rooms.AddOccupant(ctx, roomID, registry.Seat{ConnID: connID, Name: name, Symbol: engine.X}); err != nil {
		log.Error("seat creator", zap.Error(err))
		_, _ = e.rooms.DeleteRoom(ctx, roomID)
		e.rollbackRoom(ctx, roomID, connID)
		return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	_ = e.rooms.SetName(ctx, connID, name)

	e.transport.Join(connID, roomID)
	e.transport.Emit(connID, types.ServerMessage{Event: types.EventRoomCreated, Data: types.RoomCreatedPayload{RoomID: roomID}})
	e.transport.Emit(connID, types.ServerMessage{Event: types.EventPlayerAssigned, Data: engine.X})
	e.metrics.RoomsCreated.Inc()
	log.Info("room created", zap.String("username", name))
	return roomID, nil
}

// reserveRoomID generates ids until one is free both in memory and durably,
// and persists the empty room under it.
func (e *Engine) reserveRoomID(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= e.attempts; attempt++ {
		id, err := e.idGen()
		if err != nil {
			return "", fmt.Errorf("%w: generate id: %v", ErrCreateFailed, err)
		}
		id = NormalizeRoomID(id)

		if _, err := e.rooms.GetRoom(ctx, id); err == nil {
			e.logger.Debug("room id collision in memory, regenerating", zap.String("room_id", id), zap.Int("attempt", attempt))
			continue
		}

		err = e.store.CreateRoom(ctx, id)
		if errors.Is(err, store.ErrConstraint) {
			e.logger.Debug("room id collision in store, regenerating", zap.String("room_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			e.storeFailed("create_room", err, zap.String("room_id", id))
			return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
		}
		return id, nil
	}
	return "", fmt.Errorf("%w: no free room id after %d attempts", ErrCreateFailed, e.attempts)
}

// rollbackRoom undoes the durable half of a failed create.
func (e *Engine) rollbackRoom(ctx context.Context, roomID, connID string) {
	if connID != "" {
		if err := e.store.RemovePlayer(ctx, connID); err != nil {
			e.storeFailed("remove_player", err, zap.String("room_id", roomID))
		}
	}
	if _, err := e.store.DeleteRoomIfEmpty(ctx, roomID); err != nil {
		e.storeFailed("delete_room_if_empty", err, zap.String("room_id", roomID))
	}
}

// Join seats connID in an existing room. Seat availability is checked
// against the store, not the registry.
func (e *Engine) Join(ctx context.Context, connID, username, rawRoomID string) error {
	name, ok := normalizeName(username)
	if !ok {
		return fmt.Errorf("%w: username must be 1-%d characters", ErrBadRequest, maxNameLength)
	}
	roomID := NormalizeRoomID(rawRoomID)
	if roomID == "" {
		return ErrInvalidRoom
	}
	if err := e.ensureUnseated(ctx, connID); err != nil {
		return err
	}
	log := e.logger.With(zap.String("conn_id", connID), zap.String("room_id", roomID))

	unlock := e.locks.lock(roomID)
	defer unlock()

	rec, err := e.store.GetRoomWithPlayers(ctx, roomID)
	if err != nil {
		e.storeFailed("get_room_with_players", err, zap.String("room_id", roomID))
		return fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrInvalidRoom, roomID)
	}
	if len(rec.Players) >= 2 {
		return fmt.Errorf("%w: %s", ErrRoomFull, roomID)
	}

	symbol := joinSymbol(rec.Players)
	err = e.store.AddPlayer(ctx, store.PlayerRecord{ConnectionID: connID, Username: name, RoomID: roomID, Symbol: symbol})
	if err != nil {
		if errors.Is(err, store.ErrConstraint) {
			if again, rerr := e.store.GetRoomWithPlayers(ctx, roomID); rerr == nil && again == nil {
				return fmt.Errorf("%w: %s", ErrInvalidRoom, roomID)
			}
		}
		e.storeFailed("add_player", err, zap.String("room_id", roomID))
		return fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}

	seats := make([]registry.Seat, 0, len(rec.Players))
	for _, p := range rec.Players {
		seats = append(seats, registry.Seat{ConnID: p.ConnectionID, Name: p.Username, Symbol: p.Symbol})
	}
	if _, err := e.rooms.Hydrate(ctx, roomID, rec.Room.Board, seats); err != nil {
		return e.abortJoin(ctx, connID, roomID, err)
	}
	room, err := e.rooms.AddOccupant(ctx, roomID, registry.Seat{ConnID: connID, Name: name, Symbol: symbol})
	if err != nil {
		return e.abortJoin(ctx, connID, roomID, err)
	}
	_ = e.rooms.SetName(ctx, connID, name)

	board := room.Board.Strings()
	e.transport.Join(connID, roomID)
	e.transport.Emit(connID, types.ServerMessage{
		Event: types.EventJoinedRoom,
		Data:  types.JoinedRoomPayload{RoomID: roomID, GameState: board},
	})
	e.transport.Emit(connID, types.ServerMessage{Event: types.EventPlayerAssigned, Data: symbol})
	e.transport.EmitRoom(roomID, types.ServerMessage{
		Event: types.EventStartGame,
		Data:  types.StartGamePayload{GameState: board},
	})
	e.metrics.PlayersJoined.Inc()
	log.Info("player joined", zap.String("username", name), zap.String("symbol", string(symbol)))
	return nil
}

func (e *Engine) abortJoin(ctx context.Context, connID, roomID string, cause error) error {
	e.logger.Error("register joiner", zap.String("room_id", roomID), zap.Error(cause))
	if err := e.store.RemovePlayer(ctx, connID); err != nil {
		e.storeFailed("remove_player", err, zap.String("room_id", roomID))
	}
	return fmt.Errorf("%w: %v", ErrJoinFailed, cause)
}

// joinSymbol assigns X to an empty room and otherwise the symbol the
// remaining seat does not hold.
func joinSymbol(seated []store.PlayerRecord) engine.Symbol {
	if len(seated) == 0 {
		return engine.X
	}
	if seated[0].Symbol == engine.O {
		return engine.X
	}
	return engine.O
}

func (e *Engine) ensureUnseated(ctx context.Context, connID string) error {
	room, err := e.rooms.RoomOf(ctx, connID)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadySeated, room.ID)
	}
	return nil
}

// Move applies a move to the room's board, persists it and relays it to the
// other occupant. Unknown rooms are dropped without a reply.
func (e *Engine) Move(ctx context.Context, connID string, p types.MovePayload) error {
	if p.Index == nil {
		return e.violation(fmt.Errorf("%w: move without index", ErrBadRequest))
	}
	index := *p.Index
	if err := engine.ValidIndex(index); err != nil {
		return e.violation(fmt.Errorf("%w: %v", ErrBadRequest, err))
	}
	symbol, err := engine.ParseSymbol(p.Symbol)
	if err != nil {
		return e.violation(fmt.Errorf("%w: %v", ErrBadRequest, err))
	}

	roomID := NormalizeRoomID(p.Room)
	var room registry.Room
	if roomID == "" {
		room, err = e.rooms.RoomOf(ctx, connID)
	} else {
		room, err = e.rooms.GetRoom(ctx, roomID)
	}
	if err != nil {
		e.logger.Debug("move for unknown room dropped", zap.String("conn_id", connID), zap.String("room_id", roomID))
		return nil
	}
	roomID = room.ID
	log := e.logger.With(zap.String("conn_id", connID), zap.String("room_id", roomID))

	if e.strict {
		if err := checkStrict(room, connID, index, symbol); err != nil {
			return e.violation(err)
		}
	}

	room, err = e.rooms.ApplyMove(ctx, roomID, index, symbol)
	if err != nil {
		log.Debug("room vanished before move was applied", zap.Error(err))
		return nil
	}
	e.metrics.Moves.WithLabelValues(string(symbol)).Inc()

	saveErr := e.store.UpdateBoard(ctx, roomID, room.Board)
	if saveErr != nil {
		e.storeFailed("update_board", saveErr, zap.String("room_id", roomID))
	}

	e.transport.EmitRoomExcept(roomID, connID, types.ServerMessage{
		Event: types.EventMove,
		Data:  types.MovePayload{Index: &index, Symbol: string(symbol)},
	})

	if outcome := engine.CheckResult(room.Board); outcome.Decided() {
		_, changed, err := e.rooms.Conclude(ctx, roomID, outcome)
		if err != nil {
			log.Debug("conclude room", zap.Error(err))
		}
		if changed {
			if err := e.store.RecordWinner(ctx, roomID, outcome); err != nil {
				e.storeFailed("record_winner", err, zap.String("room_id", roomID))
				if saveErr == nil {
					saveErr = err
				}
			}
			log.Info("game concluded", zap.String("outcome", string(outcome)))
		}
	}

	if saveErr != nil {
		return fmt.Errorf("%w: %v", ErrMoveSaveFailed, saveErr)
	}
	return nil
}

// checkStrict enforces seat ownership and phase, then runs the move through
// engine.Apply with the turn taken from board parity.
func checkStrict(room registry.Room, connID string, index int, symbol engine.Symbol) error {
	seatSymbol, seated := room.Seated(connID)
	switch {
	case !seated:
		return fmt.Errorf("%w: not seated in room %s", ErrProtocolViolation, room.ID)
	case seatSymbol != symbol:
		return fmt.Errorf("%w: seat plays %s, move claims %s", ErrProtocolViolation, seatSymbol, symbol)
	case room.Phase != registry.InProgress:
		return fmt.Errorf("%w: room is %s", ErrProtocolViolation, room.Phase)
	}

	state := engine.State{Board: room.Board, Turn: room.Board.NextSymbol(), Outcome: engine.CheckResult(room.Board)}
	if _, _, err := engine.Apply(state, engine.Command{Index: index, Symbol: symbol}); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	return nil
}

func (e *Engine) violation(err error) error {
	e.metrics.ProtocolViolations.Inc()
	return err
}

// Restart resets the caller's room and tells every occupant a new game has
// started. A connection without a room is ignored.
func (e *Engine) Restart(ctx context.Context, connID string) error {
	room, err := e.rooms.RoomOf(ctx, connID)
	if err != nil {
		e.logger.Debug("restart without room ignored", zap.String("conn_id", connID))
		return nil
	}
	log := e.logger.With(zap.String("conn_id", connID), zap.String("room_id", room.ID))

	if _, err := e.rooms.SetPhase(ctx, room.ID, registry.AwaitingRestart); err != nil {
		return nil
	}
	saveErr := e.store.ResetGame(ctx, room.ID)
	if saveErr != nil {
		e.storeFailed("reset_game", saveErr, zap.String("room_id", room.ID))
	}

	if room, err = e.rooms.ResetBoard(ctx, room.ID); err != nil {
		return nil
	}
	next := registry.InProgress
	if len(room.Seats) < 2 {
		next = registry.AwaitingSecondPlayer
	}
	if room, err = e.rooms.SetPhase(ctx, room.ID, next); err != nil {
		return nil
	}

	e.transport.EmitRoom(room.ID, types.ServerMessage{
		Event: types.EventStartGame,
		Data:  types.StartGamePayload{GameState: room.Board.Strings()},
	})
	log.Info("game restarted")

	if saveErr != nil {
		return fmt.Errorf("%w: %v", ErrRestartFailed, saveErr)
	}
	return nil
}

// Disconnect tears down connID's seat. Errors are logged and never surface:
// the connection is already gone.
func (e *Engine) Disconnect(ctx context.Context, connID string) {
	log := e.logger.With(zap.String("conn_id", connID))
	defer func() {
		e.transport.Leave(connID)
		_ = e.rooms.RemoveName(ctx, connID)
	}()

	room, err := e.rooms.RoomOf(ctx, connID)
	if err != nil {
		e.removeSeat(ctx, connID)
		log.Debug("disconnect without room")
		return
	}
	log = log.With(zap.String("room_id", room.ID))

	// The durable seat, the in-memory seat and the empty-room check change
	// under one lock so a concurrent Join sees either all or none of them.
	unlock := e.locks.lock(room.ID)
	defer unlock()

	e.removeSeat(ctx, connID)
	remaining, err := e.rooms.RemoveOccupant(ctx, room.ID, connID)
	if err != nil {
		log.Debug("room already gone", zap.Error(err))
		return
	}
	e.transport.Leave(connID)

	if e.draining.Load() {
		// The durable room and board stay for the next process.
		if remaining == 0 {
			_, _ = e.rooms.DeleteRoom(ctx, room.ID)
		}
		log.Info("seat released for shutdown", zap.Int("remaining", remaining))
		return
	}

	result, err := e.store.DeleteRoomIfEmpty(ctx, room.ID)
	if err != nil {
		e.storeFailed("delete_room_if_empty", err, zap.String("room_id", room.ID))
		result = store.CleanupRetained
		if remaining == 0 {
			result = store.CleanupDeleted
		}
	}

	switch result {
	case store.CleanupDeleted, store.CleanupNotFound:
		_, _ = e.rooms.DeleteRoom(ctx, room.ID)
		if result == store.CleanupDeleted {
			e.metrics.RoomsDeleted.Inc()
		}
		log.Info("room torn down")
	default:
		e.transport.EmitRoom(room.ID, types.ServerMessage{Event: types.EventPlayerDisconnected})
		log.Info("player left room", zap.Int("remaining", remaining))
	}
}

func (e *Engine) removeSeat(ctx context.Context, connID string) {
	if err := e.store.RemovePlayer(ctx, connID); err != nil {
		e.storeFailed("remove_player", err, zap.String("conn_id", connID))
	}
}
