package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func sample() Notification {
	return Notification{
		Level:  LevelSuccess,
		Title:  "Price Alert: AAPL",
		Body:   "Price rose above $200.00. Current: $205.00 (+2.50%)",
		Symbol: "AAPL",
		Tag:    "alert-AAPL-200",
	}
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Show(context.Background(), sample()); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if got["title"] != "Price Alert: AAPL" || got["symbol"] != "AAPL" || got["level"] != "SUCCESS" {
		t.Errorf("unexpected payload %v", got)
	}
	if _, ok := got["ts"]; !ok {
		t.Error("payload missing ts")
	}
}

func TestWebhookNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Show(context.Background(), sample()); err == nil {
		t.Error("expected error on 502")
	}
	if err := NewWebhookNotifier("").Show(context.Background(), sample()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("empty url: got %v, want ErrUnavailable", err)
	}
}

func TestTelegramNotifier_SendsMarkdownV2(t *testing.T) {
	var payload map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "42")
	tg.apiBase = srv.URL
	if err := tg.Show(context.Background(), sample()); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("unexpected path %s", path)
	}
	if payload["parse_mode"] != "MarkdownV2" || payload["chat_id"] != "42" {
		t.Errorf("unexpected payload %v", payload)
	}
	text, _ := payload["text"].(string)
	if !strings.Contains(text, `\$200\.00`) && !strings.Contains(text, `$200\.00`) {
		t.Errorf("expected escaped price in %q", text)
	}

	if err := NewTelegramNotifier("", "").Show(context.Background(), sample()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("unconfigured telegram: got %v", err)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a.b-c!"); got != `a\.b\-c\!` {
		t.Errorf("got %q", got)
	}
}

func TestHTTPMailer(t *testing.T) {
	var got Mail
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sendMail" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":"Failed to send mail"}`)
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL + "/api/sendMail")
	mail := Mail{To: "user@example.com", Subject: "Price Alert: AAPL", Text: "plain", HTML: "<p>html</p>"}

	if err := m.Send(context.Background(), mail); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != mail {
		t.Errorf("endpoint received %+v", got)
	}

	status = http.StatusInternalServerError
	err := m.Send(context.Background(), mail)
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestHTTPMailer_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := NewHTTPMailer(srv.URL).Send(ctx, Mail{To: "x@example.com"}); err == nil {
		t.Error("expected error after context deadline")
	}
}

type recordingToaster struct {
	got []Notification
	err error
}

func (r *recordingToaster) Toast(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestToasters_TriesAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("redis down")
	a := &recordingToaster{err: boom}
	b := &recordingToaster{}

	err := Toasters{a, nil, b}.Toast(context.Background(), sample())
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to wrap boom, got %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Errorf("expected every toaster called once, got %d and %d", len(a.got), len(b.got))
	}

	if err := (Toasters{}).Toast(context.Background(), sample()); err != nil {
		t.Errorf("empty fan-out should succeed, got %v", err)
	}
}

func TestFallbackToaster(t *testing.T) {
	boom := errors.New("redis: circuit breaker is open")
	tests := []struct {
		name         string
		primaryErr   error
		fallbackErr  error
		wantFallback int
		wantErr      bool
	}{
		{"primary delivers", nil, nil, 0, false},
		{"primary fails", boom, nil, 1, false},
		{"both fail", boom, errors.New("hub closed"), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &recordingToaster{err: tt.primaryErr}
			fallback := &recordingToaster{err: tt.fallbackErr}

			err := FallbackToaster{Primary: primary, Fallback: fallback}.Toast(context.Background(), sample())
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, boom) {
				t.Errorf("joined error should keep the primary failure, got %v", err)
			}
			if len(primary.got) != 1 || len(fallback.got) != tt.wantFallback {
				t.Errorf("calls primary=%d fallback=%d", len(primary.got), len(fallback.got))
			}
		})
	}

	only := &recordingToaster{}
	if err := (FallbackToaster{Fallback: only}).Toast(context.Background(), sample()); err != nil || len(only.got) != 1 {
		t.Errorf("nil primary should go straight to the fallback: %v, %d", err, len(only.got))
	}
}

func TestDisabledIsUnavailable(t *testing.T) {
	if err := (Disabled{}).Show(context.Background(), sample()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v", err)
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)

	msg, err := buildMessage("alerts@example.com", Mail{
		To:      "user@example.com",
		Subject: "Price Alert: AAPL ↗",
		Text:    "PRICE ALERT: AAPL",
		HTML:    "<h2>AAPL Alert</h2>",
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	s := string(msg)
	for _, want := range []string{
		"From: alerts@example.com\r\n",
		"To: user@example.com\r\n",
		"Subject: =?utf-8?q?",
		"multipart/alternative; boundary=",
		"text/plain; charset=UTF-8",
		"text/html; charset=UTF-8",
		"PRICE ALERT: AAPL",
		"<h2>AAPL Alert</h2>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q", want)
		}
	}
	if strings.Index(s, "text/plain") > strings.Index(s, "text/html") {
		t.Error("plain part must come before html part")
	}

	plain, err := buildMessage("a@example.com", Mail{To: "b@example.com", Subject: "hi", Text: "body"}, now)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(plain), "multipart") {
		t.Error("text-only mail should not be multipart")
	}
}
