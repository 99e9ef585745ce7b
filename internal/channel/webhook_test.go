package channel

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"replypilot/internal/bus"
	"replypilot/internal/domain"
)

func testChannelLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMAC_Valid(t *testing.T) {
	body := []byte(`{"content":"hello"}`)
	if !verifyHMAC(body, "test-secret", sign(body, "test-secret")) {
		t.Error("valid HMAC should verify")
	}
}

func TestVerifyHMAC_Invalid(t *testing.T) {
	if verifyHMAC([]byte("body"), "secret", "sha256=invalid") {
		t.Error("invalid HMAC should not verify")
	}
}

func TestVerifyHMAC_Empty(t *testing.T) {
	if verifyHMAC([]byte("body"), "secret", "") {
		t.Error("empty signature should not verify")
	}
}

func TestWebhookHandler_PublishesMessage(t *testing.T) {
	b := bus.New(10, testChannelLogger())
	defer b.Close()

	w := &Webhook{secret: "my-secret", bus: b, logger: testChannelLogger()}

	body := []byte(`{
		"platform": "instagram",
		"kind": "comment",
		"message_id": "ig-1",
		"sender_id": "u-9",
		"username": "glowfan",
		"content": "Which shade suits pale skin?",
		"thread_id": "post-77"
	}`)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBuffer(body))
	req.Header.Set("X-Signature-256", sign(body, "my-secret"))
	rr := httptest.NewRecorder()

	w.handleWebhook(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}

	select {
	case msg := <-b.Subscribe():
		if msg.ID != "ig-1" || msg.Platform != "instagram" {
			t.Errorf("published %+v", msg)
		}
		if msg.Kind != domain.KindComment {
			t.Errorf("kind = %s, want comment", msg.Kind)
		}
		if msg.ThreadID != "post-77" || msg.SenderUsername != "glowfan" {
			t.Errorf("fields lost: %+v", msg)
		}
		if msg.ReceivedAt.IsZero() {
			t.Error("received_at not stamped")
		}
	default:
		t.Fatal("message not published on the bus")
	}
}

func TestWebhookHandler_DefaultsKindToDM(t *testing.T) {
	b := bus.New(10, testChannelLogger())
	defer b.Close()
	w := &Webhook{bus: b, logger: testChannelLogger()}

	body := []byte(`{"platform":"tiktok","content":"hi"}`)
	rr := httptest.NewRecorder()
	w.handleWebhook(rr, httptest.NewRequest("POST", "/webhook", bytes.NewBuffer(body)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}

	msg := <-b.Subscribe()
	if msg.Kind != domain.KindDirectMessage {
		t.Errorf("kind = %s, want dm", msg.Kind)
	}
	if msg.ID == "" {
		t.Error("missing message id should be generated")
	}
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	w := &Webhook{logger: testChannelLogger()}
	rr := httptest.NewRecorder()
	w.handleWebhook(rr, httptest.NewRequest("GET", "/webhook", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebhookHandler_EmptyContent(t *testing.T) {
	w := &Webhook{logger: testChannelLogger()}
	rr := httptest.NewRecorder()
	w.handleWebhook(rr, httptest.NewRequest("POST", "/webhook",
		bytes.NewBufferString(`{"platform":"instagram","content":""}`)))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookHandler_MissingPlatform(t *testing.T) {
	w := &Webhook{logger: testChannelLogger()}
	rr := httptest.NewRecorder()
	w.handleWebhook(rr, httptest.NewRequest("POST", "/webhook",
		bytes.NewBufferString(`{"content":"hello"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookHandler_InvalidJSON(t *testing.T) {
	w := &Webhook{logger: testChannelLogger()}
	rr := httptest.NewRecorder()
	w.handleWebhook(rr, httptest.NewRequest("POST", "/webhook", bytes.NewBufferString("not json")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookHandler_MissingSignature(t *testing.T) {
	w := &Webhook{secret: "my-secret", logger: testChannelLogger()}
	rr := httptest.NewRecorder()
	w.handleWebhook(rr, httptest.NewRequest("POST", "/webhook",
		bytes.NewBufferString(`{"platform":"instagram","content":"hello"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	w := &Webhook{secret: "my-secret", logger: testChannelLogger()}
	req := httptest.NewRequest("POST", "/webhook",
		bytes.NewBufferString(`{"platform":"instagram","content":"hello"}`))
	req.Header.Set("X-Signature-256", "sha256=invalid")
	rr := httptest.NewRecorder()
	w.handleWebhook(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestSplitMessage(t *testing.T) {
	if chunks := splitMessage("short message", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks := splitMessage("", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk for empty, got %d", len(chunks))
	}

	long := ""
	for i := 0; i < 100; i++ {
		long += "word "
	}
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
}
