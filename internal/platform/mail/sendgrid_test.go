package mail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendGridSenderSend(t *testing.T) {
	var (
		captured map[string]any
		auth     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender, err := NewSendGridSender(SendGridConfig{
		APIKey:      "SG.test",
		FromAddress: "bookings@sahra.example",
		FromName:    "Sahra Camps",
		Host:        server.URL,
	})
	if err != nil {
		t.Fatalf("NewSendGridSender: %v", err)
	}

	err = sender.Send(context.Background(), Message{
		To:         "guest@example.com",
		ToName:     "Fatima",
		Subject:    "Booking cancelled",
		PlainText:  "Your booking was cancelled.",
		HTML:       "<p>Your booking was cancelled.</p>",
		Categories: []string{"cancellation"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if auth != "Bearer SG.test" {
		t.Fatalf("unexpected authorization %q", auth)
	}
	if captured["subject"] != "Booking cancelled" {
		t.Fatalf("unexpected subject %v", captured["subject"])
	}
	from, _ := captured["from"].(map[string]any)
	if from["email"] != "bookings@sahra.example" {
		t.Fatalf("unexpected from %v", captured["from"])
	}
	content, _ := captured["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("expected plain and html content, got %v", captured["content"])
	}
}

func TestSendGridSenderReportsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"invalid key"}]}`))
	}))
	defer server.Close()

	sender, err := NewSendGridSender(SendGridConfig{APIKey: "SG.bad", FromAddress: "a@b.example", Host: server.URL})
	if err != nil {
		t.Fatalf("NewSendGridSender: %v", err)
	}

	err = sender.Send(context.Background(), Message{To: "guest@example.com", Subject: "x", PlainText: "y"})
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected SendError 401, got %v", err)
	}
}

func TestSendGridSenderValidates(t *testing.T) {
	if _, err := NewSendGridSender(SendGridConfig{FromAddress: "a@b.example"}); err == nil {
		t.Fatalf("expected error without api key")
	}
	if _, err := NewSendGridSender(SendGridConfig{APIKey: "SG.x"}); err == nil {
		t.Fatalf("expected error without from address")
	}
	sender, _ := NewSendGridSender(SendGridConfig{APIKey: "SG.x", FromAddress: "a@b.example"})
	if err := sender.Send(context.Background(), Message{Subject: "x", PlainText: "y"}); err == nil {
		t.Fatalf("expected error without recipient")
	}
}
