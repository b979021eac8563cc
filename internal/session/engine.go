// Package session turns inbound transport events into registry and store
// mutations and outbound notifications.
//
// The durable store is the validation source for joins and teardown; the
// registry is the hot copy used to relay moves. The registry is rebuilt
// from the store on demand and is never assumed complete.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/metrics"
	"github.com/DoyleJ11/tictactoe-backend/internal/registry"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
	"github.com/DoyleJ11/tictactoe-backend/internal/types"
)

var (
	ErrInvalidRoom       = errors.New("invalid room")
	ErrRoomFull          = errors.New("room full")
	ErrCreateFailed      = errors.New("could not create room")
	ErrJoinFailed        = errors.New("could not join room")
	ErrMoveSaveFailed    = errors.New("could not save move")
	ErrRestartFailed     = errors.New("could not save restart")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrBadRequest        = errors.New("bad request")
	ErrAlreadySeated     = errors.New("connection already seated in a room")
)

const defaultCreateAttempts = 5

// Transport is the outbound half of the connection layer.
type Transport interface {
	Join(connID, roomID string)
	Leave(connID string)
	Emit(connID string, msg types.ServerMessage)
	EmitRoom(roomID string, msg types.ServerMessage)
	EmitRoomExcept(roomID, exceptConnID string, msg types.ServerMessage)
}

type Deps struct {
	Store     store.Store
	Rooms     *registry.Registry
	Transport Transport
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	// Strict rejects moves that break turn order or target occupied cells.
	Strict bool
	// IDGen defaults to GenerateRoomID.
	IDGen          func() (string, error)
	CreateAttempts int
}

type Engine struct {
	store     store.Store
	rooms     *registry.Registry
	transport Transport
	metrics   *metrics.Metrics
	logger    *zap.Logger
	strict    bool
	idGen     func() (string, error)
	attempts  int
	locks     roomLocks
	draining  atomic.Bool
}

func New(d Deps) *Engine {
	e := &Engine{
		store:     d.Store,
		rooms:     d.Rooms,
		transport: d.Transport,
		metrics:   d.Metrics,
		logger:    d.Logger,
		strict:    d.Strict,
		idGen:     d.IDGen,
		attempts:  d.CreateAttempts,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("module", "session"))
	if e.metrics == nil {
		e.metrics = metrics.New(prometheus.NewRegistry())
	}
	if e.idGen == nil {
		e.idGen = GenerateRoomID
	}
	if e.attempts <= 0 {
		e.attempts = defaultCreateAttempts
	}
	return e
}

// BeginShutdown switches Disconnect to shutdown mode: seats are released
// but durable rooms and boards are kept, and remaining occupants are not
// notified. Rooms kept this way can be joined again after a restart.
func (e *Engine) BeginShutdown() {
	e.draining.Store(true)
}

// HandleMessage dispatches one inbound event. Once accepted an event runs to
// completion even if the connection goes away mid-handler.
func (e *Engine) HandleMessage(ctx context.Context, connID string, msg types.ClientMessage) {
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With(zap.String("conn_id", connID), zap.String("event", msg.Event))
	log.Debug("event received")

	var err error
	switch msg.Event {
	case types.EventCreateRoom:
		var p types.CreateRoomPayload
		if err = decode(msg, &p); err == nil {
			_, err = e.Create(ctx, connID, p.Username)
		}
	case types.EventJoinRoom:
		var p types.JoinRoomPayload
		if err = decode(msg, &p); err == nil {
			err = e.Join(ctx, connID, p.Username, p.RoomID)
		}
	case types.EventMove:
		var p types.MovePayload
		if err = decode(msg, &p); err == nil {
			err = e.Move(ctx, connID, p)
		}
	case types.EventRestartRequest:
		err = e.Restart(ctx, connID)
	default:
		err = fmt.Errorf("%w: unknown event %q", ErrBadRequest, msg.Event)
	}

	if err != nil {
		log.Info("event rejected", zap.Error(err))
		e.report(connID, err)
	}
}

func decode(msg types.ClientMessage, v any) error {
	if err := msg.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// report sends the client-visible form of err to connID only.
func (e *Engine) report(connID string, err error) {
	switch {
	case errors.Is(err, ErrInvalidRoom):
		e.transport.Emit(connID, types.ServerMessage{Event: types.EventInvalidRoom})
	case errors.Is(err, ErrRoomFull):
		e.transport.Emit(connID, types.ServerMessage{Event: types.EventRoomFull})
	default:
		e.transport.Emit(connID, types.ServerMessage{
			Event: types.EventError,
			Data:  types.ErrorPayload{Message: err.Error(), Code: errorCode(err)},
		})
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrCreateFailed):
		return types.CodeCreateFailed
	case errors.Is(err, ErrJoinFailed):
		return types.CodeJoinFailed
	case errors.Is(err, ErrMoveSaveFailed):
		return types.CodeMoveSaveFailed
	case errors.Is(err, ErrRestartFailed):
		return types.CodeRestartFailed
	case errors.Is(err, ErrProtocolViolation):
		return types.CodeProtocolViolation
	case errors.Is(err, ErrAlreadySeated):
		return types.CodeAlreadySeated
	default:
		return types.CodeBadRequest
	}
}

func (e *Engine) storeFailed(op string, err error, fields ...zap.Field) {
	e.metrics.StoreFailures.WithLabelValues(op).Inc()
	e.logger.Error("store operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
}
