// Package http implements a Source1 (webhook ingress) and Channel
// (reply-by-HTTP-callback) pair backed by net/http: HTTP requests come
// in as Tasks, and replies go back out as POSTs to the reply URL each
// request declared.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	autohands "github.com/autohands/runloop"
)

// Envelope is the expected JSON body of an inbound webhook request.
type Envelope struct {
	TaskType      string          `json:"task_type"`
	Priority      string          `json:"priority"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
	ReplyURL      string          `json:"reply_url"`
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

// Source is a Source1 that listens for webhook POSTs on Addr and turns
// each into a Task. It is also a Channel: replies are delivered back to
// the ReplyURL recorded at ingress time, keyed by the Task's own ID
// (so no external ChannelID/ConnectionID registration step is needed).
type Source struct {
	id     string
	addr   string
	logger *slog.Logger
	client *http.Client

	mu        sync.Mutex
	replyURLs map[string]string // connectionID (task ID) -> reply URL
}

// New creates an HTTP webhook Source listening on addr (e.g. ":8090").
func New(id, addr string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		id:        id,
		addr:      addr,
		logger:    logger,
		client:    &http.Client{Timeout: 10 * time.Second},
		replyURLs: make(map[string]string),
	}
}

func (s *Source) ID() string        { return s.id }
func (s *Source) ChannelID() string { return s.id }

// Poll starts an HTTP server accepting webhook POSTs and returns a
// channel of Tasks built from each valid Envelope. The server shuts
// down when ctx is cancelled.
func (s *Source) Poll(ctx context.Context) (<-chan *autohands.Task, error) {
	out := make(chan *autohands.Task)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if env.TaskType == "" {
			http.Error(w, "task_type required", http.StatusBadRequest)
			return
		}

		var reply *autohands.ReplyAddress
		t := autohands.NewTask(env.TaskType, parsePriority(env.Priority), env.Payload, env.CorrelationID, reply)
		if env.ReplyURL != "" {
			reply = &autohands.ReplyAddress{ChannelID: s.id, ConnectionID: t.ID}
			t.ReplyAddress = reply
			s.mu.Lock()
			s.replyURLs[t.ID] = env.ReplyURL
			s.mu.Unlock()
		}

		select {
		case out <- t:
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(t.ID))
		case <-ctx.Done():
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
		case <-r.Context().Done():
		}
	})

	srv := &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http source listen failed", "source.id", s.id, "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		close(out)
	}()

	return out, nil
}

// Send posts text to the reply URL recorded for connectionID (the
// originating Task's ID). The recorded URL is dropped before the post:
// each task gets exactly one reply attempt, and a stale entry would
// otherwise pin memory for every webhook ever received.
func (s *Source) Send(ctx context.Context, connectionID string, text string) error {
	s.mu.Lock()
	url, ok := s.replyURLs[connectionID]
	delete(s.replyURLs, connectionID)
	s.mu.Unlock()
	if !ok {
		return &autohands.ErrChannelGone{ChannelID: s.id}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(text))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Edit is equivalent to Send: HTTP callbacks have no native
// message-editing concept, and the reply URL is single-use, so an Edit
// after a successful Send reports the channel gone.
func (s *Source) Edit(ctx context.Context, connectionID, messageID, text string) error {
	return s.Send(ctx, connectionID, text)
}

var (
	_ autohands.Source1 = (*Source)(nil)
	_ autohands.Channel = (*Source)(nil)
)
