package http

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	autohands "github.com/autohands/runloop"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestSourcePollAcceptsWebhook(t *testing.T) {
	addr := freeAddr(t)
	src := New("source.http", addr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := src.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the listener come up

	// The handler hands the task to out before it writes 202, so out must
	// be read concurrently with the POST.
	got := make(chan *autohands.Task, 1)
	go func() {
		select {
		case task := <-out:
			got <- task
		case <-ctx.Done():
		}
	}()

	body := bytes.NewBufferString(`{"task_type":"trigger:webhook:received","priority":"high","payload":{"x":1}}`)
	resp, err := http.Post(fmt.Sprintf("http://%s/", addr), "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	select {
	case task := <-got:
		if task.TaskType != "trigger:webhook:received" || task.Priority != autohands.PriorityHigh {
			t.Errorf("unexpected task: %+v", task)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a task to arrive on out")
	}
}

func TestSourceRejectsMissingTaskType(t *testing.T) {
	addr := freeAddr(t)
	src := New("source.http", addr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := src.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Post(fmt.Sprintf("http://%s/", addr), "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing task_type, got %d", resp.StatusCode)
	}
}

func TestSourceRejectsNonPost(t *testing.T) {
	addr := freeAddr(t)
	src := New("source.http", addr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := src.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/", addr))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", resp.StatusCode)
	}
}

func TestSourceSendToGoneConnection(t *testing.T) {
	src := New("source.http", freeAddr(t), nil)
	err := src.Send(context.Background(), "never-registered", "hi")
	if _, ok := err.(*autohands.ErrChannelGone); !ok {
		t.Errorf("expected *ErrChannelGone, got %v", err)
	}
}

func TestSourceChannelID(t *testing.T) {
	src := New("my-webhook", freeAddr(t), nil)
	if src.ChannelID() != "my-webhook" {
		t.Errorf("got %q", src.ChannelID())
	}
}
