// Package handlers exposes the widget-facing API: the free-text chat turn,
// the guided chip-driven flow, and the slot query endpoint.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinvoy/clinic-ai-platform/internal/availability"
	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
	"github.com/clinvoy/clinic-ai-platform/internal/conversation"
	"github.com/clinvoy/clinic-ai-platform/internal/dialogue"
	"github.com/clinvoy/clinic-ai-platform/internal/http/middleware"
	"github.com/clinvoy/clinic-ai-platform/pkg/logging"
)

// ClinicStore loads per-clinic configuration.
type ClinicStore interface {
	Get(ctx context.Context, slug string) (*clinic.ScheduleConfig, error)
}

// BookingsReader provides active appointment starts for slot exclusion.
type BookingsReader interface {
	ActiveStartTimes(ctx context.Context, clinicSlug string, from, to time.Time) ([]time.Time, error)
}

// Handlers bundles the widget API endpoints and their collaborators.
type Handlers struct {
	turns         *conversation.Service
	machine       *dialogue.Machine
	clinics       ClinicStore
	bookings      BookingsReader
	calc          *availability.Calculator
	signingSecret string
	horizonDays   int
	logger        *logging.Logger
	now           func() time.Time
}

// New creates the handler set.
func New(turns *conversation.Service, machine *dialogue.Machine, clinics ClinicStore, bookings BookingsReader, calc *availability.Calculator, signingSecret string, logger *logging.Logger) *Handlers {
	if calc == nil {
		calc = availability.New()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{
		turns:         turns,
		machine:       machine,
		clinics:       clinics,
		bookings:      bookings,
		calc:          calc,
		signingSecret: signingSecret,
		horizonDays:   14,
		logger:        logger,
		now:           time.Now,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages   []wireMessage `json:"messages"`
	ClinicSlug string        `json:"clinicSlug"`
	Sig        string        `json:"sig"`
	SessionID  string        `json:"sessionId,omitempty"`
}

type chatResponse struct {
	Message           string                       `json:"message"`
	History           []conversation.ChatMessage   `json:"history,omitempty"`
	SuggestedSlots    []conversation.SuggestedSlot `json:"suggested_slots,omitempty"`
	ResetConversation bool                         `json:"reset_conversation,omitempty"`
	HumanTakeover     bool                         `json:"human_takeover,omitempty"`
	CalendarLink      string                       `json:"calendar_link,omitempty"`
}

// Chat handles POST /api/chat: one free-text turn. The last message must be
// from the user; everything before it is the replayed history.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.authorize(w, req.ClinicSlug, req.Sig) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages required")
		return
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || strings.TrimSpace(last.Content) == "" {
		writeError(w, http.StatusBadRequest, "last message must be from the user")
		return
	}

	history := make([]conversation.ChatMessage, 0, len(req.Messages)-1)
	for _, m := range req.Messages[:len(req.Messages)-1] {
		history = append(history, conversation.ChatMessage{Role: m.Role, Content: m.Content})
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp, err := h.turns.Turn(r.Context(), conversation.TurnRequest{
		ClinicSlug: req.ClinicSlug,
		SessionID:  sessionID,
		Sig:        req.Sig,
		Message:    last.Content,
		History:    history,
	})
	if err != nil {
		if errors.Is(err, conversation.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, "empty message")
			return
		}
		h.logger.Error("chat turn failed", "clinic", req.ClinicSlug, "error", err)
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Message:           resp.Reply,
		History:           resp.History,
		SuggestedSlots:    resp.SuggestedSlots,
		ResetConversation: resp.ResetConversation,
		HumanTakeover:     resp.HumanTakeover,
		CalendarLink:      resp.CalendarLink,
	})
}

type guidedRequest struct {
	ClinicSlug string         `json:"clinicSlug"`
	Sig        string         `json:"sig"`
	State      dialogue.State `json:"state"`
	Chip       string         `json:"chip,omitempty"`
	Text       string         `json:"text,omitempty"`
}

type guidedResponse struct {
	Message        string          `json:"message"`
	SuggestedSlots []dialogue.Chip `json:"suggested_slots,omitempty"`
	FreeText       bool            `json:"free_text,omitempty"`
	CalendarLink   string          `json:"calendar_link,omitempty"`
	State          dialogue.State  `json:"state"`
}

// GuidedChat handles POST /api/chat/guided: one step of the chip-driven
// flow. The machine state rides in the request and comes back updated.
func (h *Handlers) GuidedChat(w http.ResponseWriter, r *http.Request) {
	var req guidedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.authorize(w, req.ClinicSlug, req.Sig) {
		return
	}

	cfg, err := h.clinics.Get(r.Context(), req.ClinicSlug)
	if err != nil {
		h.logger.Error("clinic config load failed", "clinic", req.ClinicSlug, "error", err)
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	reply, err := h.machine.Step(r.Context(), cfg, req.Sig, req.State, dialogue.Input{
		Chip: req.Chip,
		Text: req.Text,
	})
	if err != nil {
		h.logger.Error("guided step failed", "clinic", req.ClinicSlug, "error", err)
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, guidedResponse{
		Message:        reply.Message,
		SuggestedSlots: reply.Chips,
		FreeText:       reply.FreeText,
		CalendarLink:   reply.CalendarLink,
		State:          reply.State,
	})
}

type slotsRequest struct {
	ClinicSlug string `json:"clinicSlug"`
	Sig        string `json:"sig"`
	Date       string `json:"date,omitempty"` // "2006-01-02", clinic-local
	Days       int    `json:"days,omitempty"`
}

type slotEntry struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type dayEntry struct {
	DateStr string `json:"dateStr"`
	Label   string `json:"label"`
}

// Slots handles POST /api/slots. With a date it returns that day's free
// slots; without one it returns upcoming days that have any.
func (h *Handlers) Slots(w http.ResponseWriter, r *http.Request) {
	var req slotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.authorize(w, req.ClinicSlug, req.Sig) {
		return
	}

	cfg, err := h.clinics.Get(r.Context(), req.ClinicSlug)
	if err != nil {
		h.logger.Error("clinic config load failed", "clinic", req.ClinicSlug, "error", err)
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	starts, err := h.activeStarts(r.Context(), cfg)
	if err != nil {
		h.logger.Error("active starts lookup failed", "clinic", cfg.Slug, "error", err)
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	if req.Date != "" {
		slots, err := h.calc.SlotsForDay(cfg, req.Date, starts, 0, true)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		entries := make([]slotEntry, 0, len(slots))
		for _, s := range slots {
			entries = append(entries, slotEntry{Label: s.Label, Start: s.Start, End: s.End})
		}
		writeJSON(w, http.StatusOK, map[string]any{"slots": entries})
		return
	}

	days, err := h.calc.NextDaysWithSlots(cfg, starts, req.Days)
	if err != nil {
		h.logger.Error("day options failed", "clinic", cfg.Slug, "error", err)
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return
	}
	entries := make([]dayEntry, 0, len(days))
	for _, d := range days {
		entries = append(entries, dayEntry{DateStr: d.Date, Label: d.Label})
	}
	writeJSON(w, http.StatusOK, map[string]any{"workingDays": entries})
}

func (h *Handlers) activeStarts(ctx context.Context, cfg *clinic.ScheduleConfig) ([]time.Time, error) {
	if h.bookings == nil {
		return nil, nil
	}
	from := h.now()
	return h.bookings.ActiveStartTimes(ctx, cfg.Slug, from, from.AddDate(0, 0, h.horizonDays+1))
}

// authorize checks the clinic slug and widget signature, writing the error
// response itself when the request is rejected.
func (h *Handlers) authorize(w http.ResponseWriter, clinicSlug, sig string) bool {
	if strings.TrimSpace(clinicSlug) == "" {
		writeError(w, http.StatusBadRequest, "clinicSlug required")
		return false
	}
	if !middleware.ValidSig(h.signingSecret, clinicSlug, sig) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
