package status

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Server upgrades incoming HTTP connections to websockets and streams a
// Bus's Snapshots to each client: ServeHTTP itself writes the snapshots and
// a pingLoop goroutine sends keepalive pings, in the broadcast rather than
// dial direction.
type Server struct {
	bus      *Bus
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewServer(bus *Bus, log zerolog.Logger) *Server {
	return &Server{
		bus:      bus,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		log:      log.With().Str("component", "status_server").Logger(),
	}
}

// ServeHTTP implements http.Handler, upgrading the connection and replaying
// every target's last-known status before streaming live updates.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for _, snap := range s.bus.Snapshots() {
		if err := s.writeSnapshot(conn, snap); err != nil {
			return
		}
	}

	go s.pingLoop(conn)

	for snap := range ch {
		if err := s.writeSnapshot(conn, snap); err != nil {
			return
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, snap Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}

// pingLoop keeps the connection alive; once a write fails (client gone),
// the loop exits and the outer ServeHTTP's channel read eventually does
// too when the server's own write fails on the same dead connection.
func (s *Server) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}
