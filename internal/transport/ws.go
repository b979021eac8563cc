package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/metrics"
	"github.com/DoyleJ11/tictactoe-backend/internal/types"
)

const (
	outboxSize   = 16
	writeTimeout = 3 * time.Second
	readLimit    = 4096
)

// Dispatcher receives inbound events. HandleMessage calls for one connection
// are made sequentially from that connection's reader goroutine.
type Dispatcher interface {
	HandleMessage(ctx context.Context, connID string, msg types.ClientMessage)
	Disconnect(ctx context.Context, connID string)
}

type Options struct {
	OriginPatterns []string
	PingInterval   time.Duration
}

type wsConn struct {
	id     string
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	// slow is set when Send found the outbox full. It picks the close code
	// once done fires.
	slow atomic.Bool
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		c.slow.Store(true)
		return ErrSlowConsumer
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
	})
}

func Handler(d Dispatcher, h *Hub, m *metrics.Metrics, opts Options, logger *zap.Logger) http.HandlerFunc {
	logger = logger.With(zap.String("module", "ws"))

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(readLimit)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &wsConn{
			id:     uuid.NewString(),
			out:    make(chan []byte, outboxSize),
			done:   make(chan struct{}),
			cancel: cancel,
		}
		h.Register(c)
		m.Connections.Inc()
		log := logger.With(zap.String("conn_id", c.id))
		log.Info("client connected", zap.String("remote", r.RemoteAddr))

		defer func() {
			// The request context is gone by now; cleanup still has to run.
			d.Disconnect(context.WithoutCancel(ctx), c.id)
			h.Unregister(c.id)
			c.Close()
			m.Connections.Dec()
			log.Info("client disconnected")
		}()

		go writeLoop(ctx, conn, c, opts.PingInterval, log)

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil || cm.Event == "" {
				h.Emit(c.id, types.ServerMessage{
					Event: types.EventError,
					Data:  types.ErrorPayload{Message: "malformed message", Code: types.CodeBadRequest},
				})
				continue
			}
			d.HandleMessage(ctx, c.id, cm)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, c *wsConn, pingInterval time.Duration, log *zap.Logger) {
	var ping <-chan time.Time
	if pingInterval > 0 {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			if c.slow.Load() {
				_ = conn.Close(websocket.StatusPolicyViolation, "too slow")
			}
			return
		case data := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("ping failed", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}
