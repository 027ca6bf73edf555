package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/zapflow/zapflow/internal/models"
	"github.com/zapflow/zapflow/internal/store"
	"github.com/zapflow/zapflow/internal/whatsapp"
)

func seedProject(t *testing.T) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.CreateProject(models.Project{ID: "p1", OperatorID: "op-1", Name: "Bot", Active: true, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.CreateMessage(models.Template{
		ID: "t1", ProjectID: "p1",
		Triggers: []string{"oi", "olá"},
		Response: "Olá {name}! Como posso ajudar?",
		Active:   true,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return st
}

func TestNewResponder_RequiresProject(t *testing.T) {
	svc := NewTwilioService(whatsapp.NewMockClient())
	if _, err := NewResponder(svc, seedProject(t), ""); err != ErrNoProject {
		t.Errorf("expected ErrNoProject, got %v", err)
	}
}

func TestResponder_AnswersMatchedMessage(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	responder, err := NewResponder(svc, seedProject(t), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	responder.handle(context.Background(), models.Response{From: "5511912345678", Body: "oi, tudo bem?", Time: time.Now().Unix()})

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(mock.SentMessages))
	}
	want := "Olá cliente! Como posso ajudar?"
	if mock.SentMessages[0].Body != want {
		t.Errorf("reply = %q, want %q", mock.SentMessages[0].Body, want)
	}
}

func TestResponder_CustomContactName(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	responder, err := NewResponder(svc, seedProject(t), "p1", WithContactName("amigo"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	responder.handle(context.Background(), models.Response{From: "5511912345678", Body: "olá"})

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].Body != "Olá amigo! Como posso ajudar?" {
		t.Errorf("unexpected reply: %q", mock.SentMessages[0].Body)
	}
}

func TestResponder_IgnoresUnmatchedMessage(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	responder, err := NewResponder(svc, seedProject(t), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	responder.handle(context.Background(), models.Response{From: "5511912345678", Body: "xyzzy"})

	if len(mock.SentMessages) != 0 {
		t.Errorf("expected no reply for unmatched text, got %v", mock.SentMessages)
	}
}

func TestResponder_RunStopsOnContextCancel(t *testing.T) {
	svc := NewTwilioService(whatsapp.NewMockClient())
	responder, err := NewResponder(svc, seedProject(t), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		responder.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("responder did not stop on context cancel")
	}
}
