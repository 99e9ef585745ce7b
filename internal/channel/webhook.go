// Package channel implements the ingestion and delivery channels: the signed
// webhook that social platforms post into, and the Telegram surface used for
// direct messages.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"replypilot/internal/domain"
	"replypilot/internal/metrics"
)

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Listen       string // listen address (default :8080)
	Path         string // webhook URL path (default /webhook)
	Secret       string // HMAC secret for verifying webhook signatures
	ServeMetrics bool   // expose /metrics on the same listener
	Logger       *slog.Logger
}

// Webhook accepts signed HTTP POSTs carrying inbound social messages and
// publishes them on the bus.
type Webhook struct {
	listen       string
	path         string
	secret       string
	serveMetrics bool
	bus          domain.MessageBus
	logger       *slog.Logger
	server       *http.Server
}

// WebhookPayload is the expected JSON body for webhook requests.
type WebhookPayload struct {
	Platform  string            `json:"platform"`   // instagram | tiktok | ...
	Kind      string            `json:"kind"`       // dm | comment
	MessageID string            `json:"message_id"` // platform-assigned id, used for dedup
	SenderID  string            `json:"sender_id"`
	Username  string            `json:"username,omitempty"`
	Content   string            `json:"content"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewWebhook creates a new webhook channel handler.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	return &Webhook{
		listen:       cfg.Listen,
		path:         cfg.Path,
		secret:       cfg.Secret,
		serveMetrics: cfg.ServeMetrics,
		logger:       cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Start begins the webhook HTTP server and blocks until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebhook)
	if w.serveMetrics {
		mux.HandleFunc("/metrics", metrics.Default.Handler())
	}

	w.server = &http.Server{
		Addr:              w.listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "listen", w.listen, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) Stop() error {
	if w.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(shutdownCtx)
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Verify HMAC signature if secret is configured.
	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if payload.Content == "" {
		http.Error(rw, "Content is required", http.StatusBadRequest)
		return
	}
	if payload.Platform == "" {
		http.Error(rw, "Platform is required", http.StatusBadRequest)
		return
	}

	kind := domain.KindDirectMessage
	if payload.Kind == string(domain.KindComment) {
		kind = domain.KindComment
	}
	if payload.MessageID == "" {
		payload.MessageID = uuid.NewString()
	}
	if payload.SenderID == "" {
		payload.SenderID = "anonymous"
	}

	w.logger.Info("webhook received",
		"platform", payload.Platform,
		"kind", kind,
		"message_id", payload.MessageID,
		"sender_id", payload.SenderID,
		"content_len", len(payload.Content),
	)
	metrics.MessagesTotal.Inc()

	w.bus.Publish(domain.IncomingMessage{
		ID:             payload.MessageID,
		Platform:       payload.Platform,
		Kind:           kind,
		SenderID:       payload.SenderID,
		SenderUsername: payload.Username,
		Content:        payload.Content,
		ThreadID:       payload.ThreadID,
		Metadata:       payload.Metadata,
		ReceivedAt:     time.Now(),
	})

	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(map[string]string{
		"status":     "accepted",
		"message_id": payload.MessageID,
	})
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
