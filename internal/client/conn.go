package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Conn is a websocket connection to the game server. It implements Emitter.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func Dial(ctx context.Context, url string, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws, logger: logger.With(zap.String("module", "client"))}, nil
}

func (c *Conn) Emit(ctx context.Context, event string, data any) error {
	frame := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, raw)
}

// Run feeds server events into ctrl until the connection or ctx ends. A
// normal close returns nil.
func (c *Conn) Run(ctx context.Context, ctrl *Controller) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("undecodable frame", zap.Error(err))
			continue
		}
		if err := ctrl.HandleEvent(msg.Event, msg.Data); err != nil {
			c.logger.Warn("bad event", zap.String("event", msg.Event), zap.Error(err))
		}
	}
}

func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
