// Package webhook accepts inbound provider events, deduplicates them by
// message ID, and hands fresh events to the workflow asynchronously so the
// provider acknowledgement is never blocked on downstream sends.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gatepass-bot/pkg/logger"
)

const processTimeout = 30 * time.Second

// Envelope is the provider-shaped event body. Only the first message of the
// first change is meaningful; everything is optional so a malformed payload
// is a branch, not a panic.
type Envelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []Message `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type Message struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

// DedupStore records event IDs durably; the recorded ID is the sole dedup
// signal.
type DedupStore interface {
	MarkEventProcessed(ctx context.Context, messageID string) (bool, error)
}

// Processor consumes a deduplicated inbound message.
type Processor interface {
	HandleMessage(ctx context.Context, phone, text string) error
}

type Handler struct {
	verifyToken string
	store       DedupStore
	processor   Processor
	wg          sync.WaitGroup
}

func NewHandler(verifyToken string, store DedupStore, processor Processor) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		store:       store,
		processor:   processor,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/webhook", h.handleVerify)
	r.Post("/webhook", h.handleEvent)
}

// Wait blocks until all in-flight event processing has finished. Used by
// graceful shutdown and tests.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// handleVerify answers the provider's subscription handshake: echo the
// challenge when the static verify token matches.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("hub.mode") == "subscribe" && query.Get("hub.verify_token") == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(query.Get("hub.challenge")))
		return
	}
	writeJSON(w, http.StatusForbidden, map[string]string{"message": "invalid verification token"})
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var envelope Envelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		zap.L().Warn("rejecting undecodable webhook payload", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalid"})
		return
	}

	msg, ok := extractMessage(&envelope)
	if !ok {
		// Not recorded as processed: a corrected resend of the same event
		// ID must still be accepted.
		zap.L().Warn("rejecting malformed webhook payload")
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalid"})
		return
	}

	first, err := h.store.MarkEventProcessed(r.Context(), msg.ID)
	if err != nil {
		zap.L().Error("failed to record webhook event",
			zap.String(logger.FieldMessageID, msg.ID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}
	if !first {
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	// The ID is durably recorded, so hand off and acknowledge immediately.
	// Processing runs on a detached context: the provider's request lifetime
	// must not bound the workflow.
	phone, text := msg.From, msg.Text.Body
	messageID := msg.ID
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()

		if err := h.processor.HandleMessage(ctx, phone, text); err != nil {
			zap.L().Error("failed to process webhook event",
				zap.String(logger.FieldMessageID, messageID),
				zap.String(logger.FieldPhone, phone),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func extractMessage(envelope *Envelope) (*Message, bool) {
	if len(envelope.Entry) == 0 || len(envelope.Entry[0].Changes) == 0 {
		return nil, false
	}
	messages := envelope.Entry[0].Changes[0].Value.Messages
	if len(messages) == 0 {
		return nil, false
	}
	msg := &messages[0]
	if msg.ID == "" || msg.From == "" || msg.Text == nil {
		return nil, false
	}
	return msg, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
