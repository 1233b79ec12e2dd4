// Package websocket implements a Source1 (connection ingress) and
// Channel (reply-by-frame) pair backed by github.com/gorilla/websocket.
// Any number of concurrent connections are served; each gets its own
// ConnectionID, so replies route back to the client that produced the
// originating Task.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	autohands "github.com/autohands/runloop"

	"github.com/gorilla/websocket"
)

// Frame is the expected JSON shape of an inbound WebSocket message.
type Frame struct {
	TaskType      string          `json:"task_type"`
	Priority      string          `json:"priority"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
}

func parsePriority(s string) autohands.Priority {
	switch s {
	case "low":
		return autohands.PriorityLow
	case "high":
		return autohands.PriorityHigh
	case "system":
		return autohands.PrioritySystem
	default:
		return autohands.PriorityNormal
	}
}

// Source accepts WebSocket connections on Addr and is also a Channel:
// outbound frames route by ConnectionID to the live *websocket.Conn
// that last spoke, so replies reach the client that produced the
// originating Task.
type Source struct {
	id       string
	addr     string
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

// New creates a WebSocket Source listening on addr (e.g. ":8091").
func New(id, addr string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		id:       id,
		addr:     addr,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:   logger,
		conns:    make(map[string]*websocket.Conn),
	}
}

func (s *Source) ID() string        { return s.id }
func (s *Source) ChannelID() string { return s.id }

// Poll starts a WebSocket server and forwards each valid inbound Frame
// as a Task, tagged with a ReplyAddress pointing back at this Channel
// and the originating connection.
func (s *Source) Poll(ctx context.Context) (<-chan *autohands.Task, error) {
	out := make(chan *autohands.Task)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("websocket upgrade failed", "source.id", s.id, "err", err)
			return
		}
		connID := autohands.NewID()
		s.mu.Lock()
		s.conns[connID] = conn
		s.mu.Unlock()

		go func() {
			defer func() {
				s.mu.Lock()
				delete(s.conns, connID)
				s.mu.Unlock()
				conn.Close()
			}()
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var f Frame
				if err := json.Unmarshal(data, &f); err != nil || f.TaskType == "" {
					continue
				}
				reply := &autohands.ReplyAddress{ChannelID: s.id, ConnectionID: connID}
				t := autohands.NewTask(f.TaskType, parsePriority(f.Priority), f.Payload, f.CorrelationID, reply)
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}()
	})

	srv := &http.Server{Addr: s.addr, Handler: mux}
	go srv.ListenAndServe()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		close(out)
	}()

	return out, nil
}

// Send writes a text frame to the connection identified by connectionID.
func (s *Source) Send(ctx context.Context, connectionID string, text string) error {
	s.mu.RLock()
	conn, ok := s.conns[connectionID]
	s.mu.RUnlock()
	if !ok {
		return &autohands.ErrChannelGone{ChannelID: s.id}
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Edit has no native WebSocket equivalent; it sends a new frame carrying
// the updated text, leaving edit semantics to the client protocol.
func (s *Source) Edit(ctx context.Context, connectionID, messageID, text string) error {
	return s.Send(ctx, connectionID, text)
}

var (
	_ autohands.Source1 = (*Source)(nil)
	_ autohands.Channel = (*Source)(nil)
)
