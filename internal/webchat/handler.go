// Package webchat is the widget transport: an embeddable script, a
// WebSocket session for real-time turns, and an HTTP fallback for clients
// that cannot hold a socket. Each turn is answered synchronously by the
// conversation engine; the transcript lives in the connection, mirroring
// the client-held history model.
package webchat

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/clinvoy/clinic-ai-platform/internal/conversation"
	"github.com/clinvoy/clinic-ai-platform/internal/http/middleware"
	"github.com/clinvoy/clinic-ai-platform/pkg/logging"
)

//go:embed widget.js
var defaultWidgetJS []byte

// TurnRunner answers one chat turn. The conversation service implements it.
type TurnRunner interface {
	Turn(ctx context.Context, req conversation.TurnRequest) (*conversation.TurnResponse, error)
}

// Handler manages web chat connections and messages.
type Handler struct {
	turns         TurnRunner
	logger        *logging.Logger
	widgetJS      []byte
	signingSecret string
}

// InboundMessage is what the widget sends over the socket.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text,omitempty"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type         string `json:"type"` // "message", "typing", "session", "pong", "error"
	Text         string `json:"text,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	CalendarLink string `json:"calendar_link,omitempty"`
	Reset        bool   `json:"reset,omitempty"`
}

// NewHandler creates a web chat handler. widgetJS may be nil to serve the
// embedded default. An empty signingSecret disables signature checks, same
// as the JSON API.
func NewHandler(turns TurnRunner, signingSecret string, widgetJS []byte, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if len(widgetJS) == 0 {
		widgetJS = defaultWidgetJS
	}
	return &Handler{turns: turns, logger: logger, widgetJS: widgetJS, signingSecret: signingSecret}
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and answers turns in-line.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	clinicSlug := r.URL.Query().Get("clinic")
	if clinicSlug == "" {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "missing clinic parameter"})
		return
	}
	sig := r.URL.Query().Get("sig")
	if !middleware.ValidSig(h.signingSecret, clinicSlug, sig) {
		h.logger.Warn("webchat: rejected connection with bad signature", "clinic", clinicSlug)
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "error", Text: "invalid signature"})
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	_ = websocket.JSON.Send(conn, OutboundMessage{Type: "session", SessionID: sessionID})

	h.logger.Info("webchat: connection opened", "clinic", clinicSlug, "session_id", sessionID)

	// The transcript for this connection. Replayed into every turn; the
	// server keeps nothing once the socket closes.
	var history []conversation.ChatMessage

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "clinic", clinicSlug, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		_ = websocket.JSON.Send(conn, OutboundMessage{Type: "typing"})

		resp, err := h.turns.Turn(r.Context(), conversation.TurnRequest{
			ClinicSlug: clinicSlug,
			SessionID:  sessionID,
			Sig:        sig,
			Message:    msg.Text,
			History:    history,
		})
		if err != nil {
			h.logger.Error("webchat: turn failed", "clinic", clinicSlug, "error", err)
			_ = websocket.JSON.Send(conn, OutboundMessage{
				Type: "error",
				Text: "Sorry, something went wrong. Please try again.",
			})
			continue
		}

		history = resp.History
		_ = websocket.JSON.Send(conn, OutboundMessage{
			Type:         "message",
			Text:         resp.Reply,
			CalendarLink: resp.CalendarLink,
			Reset:        resp.ResetConversation,
		})
	}
}

// HandleMessage is the HTTP fallback for widgets without WebSocket support.
// The client carries the history itself, as with /api/chat.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClinicSlug string                     `json:"clinic_slug"`
		Sig        string                     `json:"sig"`
		SessionID  string                     `json:"session_id"`
		Text       string                     `json:"text"`
		History    []conversation.ChatMessage `json:"history,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ClinicSlug == "" || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "clinic_slug and text are required", http.StatusBadRequest)
		return
	}
	if !middleware.ValidSig(h.signingSecret, req.ClinicSlug, req.Sig) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}

	resp, err := h.turns.Turn(r.Context(), conversation.TurnRequest{
		ClinicSlug: req.ClinicSlug,
		SessionID:  req.SessionID,
		Sig:        req.Sig,
		Message:    req.Text,
		History:    req.History,
	})
	if err != nil {
		h.logger.Error("webchat: turn failed", "clinic", req.ClinicSlug, "error", err)
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message":            resp.Reply,
		"session_id":         req.SessionID,
		"history":            resp.History,
		"reset_conversation": resp.ResetConversation,
		"calendar_link":      resp.CalendarLink,
	})
}

// HandleWidgetJS serves the embeddable widget JavaScript.
func (h *Handler) HandleWidgetJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_, _ = w.Write(h.widgetJS)
}
