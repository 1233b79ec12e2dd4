package websocket

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	autohands "github.com/autohands/runloop"

	"github.com/gorilla/websocket"
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

func TestSourcePollReceivesFrame(t *testing.T) {
	addr := freeAddr(t)
	src := New("source.ws", addr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := src.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/", addr), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"task_type":"channel:websocket:message","priority":"low","payload":{}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case task := <-out:
		if task.TaskType != "channel:websocket:message" || task.Priority != autohands.PriorityLow {
			t.Errorf("unexpected task: %+v", task)
		}
		if task.ReplyAddress == nil || task.ReplyAddress.ChannelID != "source.ws" {
			t.Errorf("expected a reply address tagged with this channel, got %+v", task.ReplyAddress)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a task to arrive on out")
	}
}

func TestSourceSendToGoneConnection(t *testing.T) {
	src := New("source.ws", freeAddr(t), nil)
	err := src.Send(context.Background(), "never-registered", "hi")
	if _, ok := err.(*autohands.ErrChannelGone); !ok {
		t.Errorf("expected *ErrChannelGone, got %v", err)
	}
}

func TestSourceChannelID(t *testing.T) {
	src := New("my-ws", freeAddr(t), nil)
	if src.ChannelID() != "my-ws" {
		t.Errorf("got %q", src.ChannelID())
	}
}

func TestSourceRoundTripSendAfterConnect(t *testing.T) {
	addr := freeAddr(t)
	src := New("source.ws", addr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := src.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/", addr), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.WriteMessage(websocket.TextMessage, []byte(`{"task_type":"t"}`))

	var connID string
	select {
	case task := <-out:
		connID = task.ReplyAddress.ConnectionID
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive task to learn connection id")
	}

	if err := src.Send(context.Background(), connID, "reply text"); err != nil {
		t.Fatalf("send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(data) != "reply text" {
		t.Errorf("got %q, want %q", data, "reply text")
	}
}
