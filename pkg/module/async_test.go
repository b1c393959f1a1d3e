package module_test

import (
	"testing"
	"time"

	"github.com/brianh20/many-go/pkg/message"
	"github.com/brianh20/many-go/pkg/module"
)

func TestAsyncManagerUnknownToken(t *testing.T) {
	m := module.NewAsyncManager(time.Minute)
	status, _ := m.Status([]byte("never-issued"))
	if status != module.AsyncUnknown {
		t.Errorf("expected AsyncUnknown, got %v", status)
	}
}

func TestAsyncManagerLifecycle(t *testing.T) {
	m := module.NewAsyncManager(time.Minute)

	release := make(chan struct{})
	pending, err := m.Submit(func() message.ResponseMessage {
		<-release
		return message.ResponseMessage{Data: []byte("done")}
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(pending.Token) == 0 {
		t.Fatal("expected a non-empty token")
	}

	deadline := time.Now().Add(time.Second)
	for {
		status, _ := m.Status(pending.Token)
		if status == module.AsyncProcessing || status == module.AsyncQueued {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected queued or processing status, got %v", status)
		}
		time.Sleep(time.Millisecond)
	}

	close(release)

	deadline = time.Now().Add(time.Second)
	var status module.AsyncStatus
	var resp message.ResponseMessage
	for {
		status, resp = m.Status(pending.Token)
		if status == module.AsyncDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected AsyncDone, got %v", status)
		}
		time.Sleep(time.Millisecond)
	}
	if string(resp.Data) != "done" {
		t.Errorf("expected response data %q, got %q", "done", resp.Data)
	}
}

func TestAsyncManagerExpiry(t *testing.T) {
	m := module.NewAsyncManager(20 * time.Millisecond)

	block := make(chan struct{})
	pending, err := m.Submit(func() message.ResponseMessage {
		<-block
		return message.ResponseMessage{}
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer close(block)

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, _ := m.Status(pending.Token)
		if status == module.AsyncExpired {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the token to expire, last status %v", status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
