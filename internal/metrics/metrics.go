// Package metrics holds the prometheus collectors for the game server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RoomsCreated       prometheus.Counter
	RoomsDeleted       prometheus.Counter
	PlayersJoined      prometheus.Counter
	Moves              *prometheus.CounterVec
	ProtocolViolations prometheus.Counter
	StoreFailures      *prometheus.CounterVec
	Connections        prometheus.Gauge
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests so runs do not collide on the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RoomsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tictactoe",
			Name:      "rooms_created_total",
			Help:      "Rooms created.",
		}),
		RoomsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tictactoe",
			Name:      "rooms_deleted_total",
			Help:      "Rooms torn down after their last occupant left.",
		}),
		PlayersJoined: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tictactoe",
			Name:      "players_joined_total",
			Help:      "Second players seated through join-room.",
		}),
		Moves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tictactoe",
			Name:      "moves_total",
			Help:      "Moves applied, by symbol.",
		}, []string{"symbol"}),
		ProtocolViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tictactoe",
			Name:      "protocol_violations_total",
			Help:      "Moves rejected in strict mode or as malformed.",
		}),
		StoreFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tictactoe",
			Name:      "store_failures_total",
			Help:      "Durable store errors, by operation.",
		}, []string{"op"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tictactoe",
			Name:      "open_connections",
			Help:      "Currently open websocket connections.",
		}),
	}
}
