// Package conversation runs the chat turn pipeline: guard classification,
// quota accounting, config-based short circuits, prompt assembly, the model
// call with its bounded tool loop, and the final patient-facing reply.
// Conversation state lives with the caller; the engine holds nothing
// between turns.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinvoy/clinic-ai-platform/internal/availability"
	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
	"github.com/clinvoy/clinic-ai-platform/internal/guard"
	"github.com/clinvoy/clinic-ai-platform/internal/notify"
	"github.com/clinvoy/clinic-ai-platform/internal/observability/metrics"
	"github.com/clinvoy/clinic-ai-platform/internal/usage"
	"github.com/clinvoy/clinic-ai-platform/pkg/logging"
)

const (
	quotaReply = "We've reached the chat limit for now. Please call the clinic directly or try again later."

	timeoutReply = "Sorry, that took longer than expected. Could you send your message again?"

	unavailableReply = "Sorry, I'm having trouble right now. Please try again in a moment, or call the clinic directly."
)

// ErrEmptyMessage is returned when the inbound message has no content.
var ErrEmptyMessage = errors.New("conversation: empty message")

// ClinicStore loads per-clinic configuration.
type ClinicStore interface {
	Get(ctx context.Context, slug string) (*clinic.ScheduleConfig, error)
}

// BookingsReader is the appointment read-side the pipeline needs.
type BookingsReader interface {
	ActiveStartTimes(ctx context.Context, clinicSlug string, from, to time.Time) ([]time.Time, error)
	PatientNameForEmail(ctx context.Context, clinicSlug, email string) (string, error)
}

// TakeoverNotifier alerts clinic owners when a patient needs a human.
type TakeoverNotifier interface {
	NotifyTakeover(ctx context.Context, cfg *clinic.ScheduleConfig, alert notify.TakeoverAlert) error
}

// Settings are the tunables of the turn pipeline.
type Settings struct {
	Guard              guard.Limits
	ModelTimeout       time.Duration
	CompressAfterTurns int
	CompressKeepTurns  int
	HorizonDays        int
	// Quota fallbacks for clinics without a plan tier.
	DefaultPerSessionLimit int
	DefaultPerDayLimit     int
	MaxTokens              int
	SummarizeModel         string
}

// DefaultSettings mirror the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Guard:                  guard.DefaultLimits(),
		ModelTimeout:           55 * time.Second,
		CompressAfterTurns:     10,
		CompressKeepTurns:      4,
		HorizonDays:            14,
		DefaultPerSessionLimit: 30,
		DefaultPerDayLimit:     300,
		MaxTokens:              500,
	}
}

// Deps are the collaborators the service orchestrates.
type Deps struct {
	Client     CompletionClient
	Executor   BookingExecutor
	Clinics    ClinicStore
	Counters   *usage.Counters
	Bookings   BookingsReader
	Calculator *availability.Calculator
	Notifier   TakeoverNotifier
	Metrics    *metrics.EngineMetrics
	Logger     *logging.Logger
}

// Service runs the per-turn pipeline.
type Service struct {
	client   CompletionClient
	executor BookingExecutor
	clinics  ClinicStore
	counters *usage.Counters
	bookings BookingsReader
	calc     *availability.Calculator
	notifier TakeoverNotifier
	metrics  *metrics.EngineMetrics
	logger   *logging.Logger
	settings Settings
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService wires the pipeline together.
func NewService(deps Deps, settings Settings) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Calculator == nil {
		deps.Calculator = availability.New()
	}
	if settings.ModelTimeout <= 0 {
		settings.ModelTimeout = DefaultSettings().ModelTimeout
	}
	return &Service{
		client:   deps.Client,
		executor: deps.Executor,
		clinics:  deps.Clinics,
		counters: deps.Counters,
		bookings: deps.Bookings,
		calc:     deps.Calculator,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		settings: settings,
		tracer:   otel.Tracer("conversation"),
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TurnRequest is one inbound patient message plus the client-held history.
type TurnRequest struct {
	ClinicSlug string        `json:"clinic_slug"`
	SessionID  string        `json:"session_id"`
	Sig        string        `json:"sig,omitempty"`
	Message    string        `json:"message"`
	History    []ChatMessage `json:"history,omitempty"`
}

// SuggestedSlot is a selectable option accompanying the reply. The widget
// renders it as a chip whose value comes back verbatim.
type SuggestedSlot struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// TurnResponse is the engine's answer plus the updated history the client
// must send back on the next turn.
type TurnResponse struct {
	Reply             string          `json:"reply"`
	History           []ChatMessage   `json:"history"`
	SuggestedSlots    []SuggestedSlot `json:"suggested_slots,omitempty"`
	ResetConversation bool            `json:"reset_conversation,omitempty"`
	HumanTakeover     bool            `json:"human_takeover,omitempty"`
	CalendarLink      string          `json:"calendar_link,omitempty"`
}

// Turn processes one patient message end to end.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.Turn",
		trace.WithAttributes(
			attribute.String("clinic.slug", req.ClinicSlug),
			attribute.String("session.id", req.SessionID),
		))
	defer span.End()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	decision := guard.Classify(guardBatch(req.History, message), s.settings.Guard)

	cfg, err := s.clinics.Get(ctx, req.ClinicSlug)
	if err != nil {
		return nil, fmt.Errorf("conversation: load clinic config: %w", err)
	}

	if decision.HumanTakeover {
		s.notifyTakeoverAsync(cfg, req, decision.Reason, message)
	}

	// The counter bumps before the verdict is read, so rejected turns still
	// count against the quota.
	verdict, err := s.counters.Bump(ctx, cfg.Slug, req.SessionID, cfg.Location(), s.quotaLimits(cfg))
	if err != nil {
		return nil, fmt.Errorf("conversation: quota check: %w", err)
	}
	if verdict.Exceeded() {
		s.metrics.ObserveRejection(cfg.Slug, "quota")
		s.metrics.ObserveTurn(cfg.Slug, "quota")
		return &TurnResponse{
			Reply:         quotaReply,
			History:       req.History,
			HumanTakeover: decision.HumanTakeover,
		}, nil
	}

	if decision.Reject {
		s.metrics.ObserveRejection(cfg.Slug, decision.Reason)
		s.metrics.ObserveTurn(cfg.Slug, "rejected")
		history := req.History
		if decision.ResetConversation {
			history = nil
		}
		return &TurnResponse{
			Reply:             decision.Message,
			History:           history,
			ResetConversation: decision.ResetConversation,
			HumanTakeover:     decision.HumanTakeover,
		}, nil
	}

	if reply := shortCircuitReply(cfg, message); reply != "" {
		s.metrics.ObserveShortCircuit(cfg.Slug)
		s.metrics.ObserveTurn(cfg.Slug, "short_circuit")
		history := appendTurn(req.History, message, reply)
		return &TurnResponse{
			Reply:         reply,
			History:       history,
			HumanTakeover: decision.HumanTakeover,
		}, nil
	}

	pc := s.buildPromptContext(ctx, cfg, req.History, message)
	system := buildSystemPrompt(cfg, pc)

	history := s.compressHistory(ctx, req.History,
		s.settings.CompressAfterTurns, s.settings.CompressKeepTurns)
	messages := append(append([]ChatMessage{}, history...),
		ChatMessage{Role: ChatRoleUser, Content: message})

	modelCtx, cancel := context.WithTimeout(ctx, s.settings.ModelTimeout)
	defer cancel()

	reply, calendarLink, err := s.runModel(modelCtx, cfg, req, system, messages)
	if err != nil {
		s.metrics.ObserveModelFailure(cfg.Slug)
		s.metrics.ObserveTurn(cfg.Slug, "error")
		s.logger.Error("turn failed", "clinic", cfg.Slug, "error", err)
		fixed := unavailableReply
		if errors.Is(err, context.DeadlineExceeded) {
			fixed = timeoutReply
		}
		return &TurnResponse{
			Reply:         fixed,
			History:       req.History,
			HumanTakeover: decision.HumanTakeover,
		}, nil
	}

	s.metrics.ObserveTurn(cfg.Slug, "answered")
	return &TurnResponse{
		Reply:          reply,
		History:        appendTurn(messages[:len(messages)-1], message, reply),
		SuggestedSlots: suggestedChips(pc),
		HumanTakeover:  decision.HumanTakeover,
		CalendarLink:   calendarLink,
	}, nil
}

// suggestedChips renders the same slot and day suggestions fed to the
// prompt as selectable values, so the widget can offer them as chips.
func suggestedChips(pc promptContext) []SuggestedSlot {
	if len(pc.SuggestedSlots) > 0 {
		out := make([]SuggestedSlot, 0, len(pc.SuggestedSlots))
		for _, s := range pc.SuggestedSlots {
			out = append(out, SuggestedSlot{Label: s.Label, Value: s.Start.Format(time.RFC3339)})
		}
		return out
	}
	if len(pc.SuggestedDays) > 0 {
		out := make([]SuggestedSlot, 0, len(pc.SuggestedDays))
		for _, d := range pc.SuggestedDays {
			out = append(out, SuggestedSlot{Label: d.Label, Value: d.Date})
		}
		return out
	}
	return nil
}

// runModel performs the completion call and, when the model requests one,
// exactly one tool execution followed by a phrasing call. Additional tool
// calls in the same turn are dropped; the model asks again next turn.
func (s *Service) runModel(ctx context.Context, cfg *clinic.ScheduleConfig, req TurnRequest, system string, messages []ChatMessage) (reply, calendarLink string, err error) {
	ctx, span := s.tracer.Start(ctx, "conversation.runModel")
	defer span.End()

	resp, err := s.complete(ctx, cfg.Slug, CompletionRequest{
		System:    system,
		Messages:  messages,
		Tools:     bookingTools(),
		MaxTokens: s.settings.MaxTokens,
	})
	if err != nil {
		return "", "", err
	}

	if len(resp.ToolCalls) == 0 {
		if strings.TrimSpace(resp.Text) == "" {
			return "", "", errors.New("conversation: model returned empty reply")
		}
		return resp.Text, "", nil
	}

	call := resp.ToolCalls[0]
	span.SetAttributes(attribute.String("tool.name", call.Name))
	if len(resp.ToolCalls) > 1 {
		s.logger.Warn("model requested multiple tools, executing first only",
			"clinic", cfg.Slug, "count", len(resp.ToolCalls))
	}

	outcome := s.runToolCall(ctx, cfg.Slug, req.Sig, call)
	status := "refused"
	if outcome.executed {
		status = "error"
		if outcome.succeeded {
			status = "ok"
		}
	}
	s.metrics.ObserveToolExecution(cfg.Slug, call.Name, status)

	withTool := append(append([]ChatMessage{}, messages...),
		ChatMessage{Role: ChatRoleAssistant, Content: resp.Text, ToolCalls: []ToolCall{call}},
		ChatMessage{Role: ChatRoleTool, Content: outcome.result, ToolCallID: call.ID},
	)

	// Second call phrases the tool outcome. No tools offered: one
	// execution per turn.
	final, err := s.complete(ctx, cfg.Slug, CompletionRequest{
		System:    system,
		Messages:  withTool,
		MaxTokens: s.settings.MaxTokens,
	})
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(final.Text) == "" {
		return "", "", errors.New("conversation: model returned empty reply after tool")
	}

	if outcome.booked && cfg.CalendarLinkAllowed() {
		calendarLink = buildCalendarLink(cfg, outcome.startTime, outcome.endTime)
	}
	return final.Text, calendarLink, nil
}

func (s *Service) complete(ctx context.Context, clinicSlug string, req CompletionRequest) (CompletionResponse, error) {
	start := s.now()
	resp, err := s.client.Complete(ctx, req)
	s.metrics.ObserveCompletionLatency(clinicSlug, s.now().Sub(start).Seconds())
	return resp, err
}

// buildPromptContext gathers the dynamic prompt inputs. Failures here
// degrade the prompt, never the turn.
func (s *Service) buildPromptContext(ctx context.Context, cfg *clinic.ScheduleConfig, history []ChatMessage, message string) promptContext {
	pc := promptContext{Now: s.now()}

	if email := findEmail(history, message); email != "" && s.bookings != nil {
		name, err := s.bookings.PatientNameForEmail(ctx, cfg.Slug, email)
		if err != nil {
			s.logger.Warn("returning patient lookup failed", "clinic", cfg.Slug, "error", err)
		} else {
			pc.ReturningName = name
		}
	}

	intent, namesDay := wantsBooking(message)
	if !intent {
		return pc
	}

	starts, err := s.activeStarts(ctx, cfg)
	if err != nil {
		s.logger.Warn("active starts lookup failed", "clinic", cfg.Slug, "error", err)
	}
	if namesDay {
		slots, err := s.calc.NextSlots(cfg, starts, 9)
		if err != nil {
			s.logger.Warn("slot suggestion failed", "clinic", cfg.Slug, "error", err)
			return pc
		}
		pc.SuggestedSlots = slots
	} else {
		days, err := s.calc.NextDaysWithSlots(cfg, starts, 5)
		if err != nil {
			s.logger.Warn("day suggestion failed", "clinic", cfg.Slug, "error", err)
			return pc
		}
		pc.SuggestedDays = days
	}
	return pc
}

func (s *Service) activeStarts(ctx context.Context, cfg *clinic.ScheduleConfig) ([]time.Time, error) {
	if s.bookings == nil {
		return nil, nil
	}
	horizon := s.settings.HorizonDays
	if horizon <= 0 {
		horizon = DefaultSettings().HorizonDays
	}
	from := s.now()
	return s.bookings.ActiveStartTimes(ctx, cfg.Slug, from, from.AddDate(0, 0, horizon+1))
}

func (s *Service) quotaLimits(cfg *clinic.ScheduleConfig) usage.Limits {
	if cfg.PlanTier == "" {
		return usage.Limits{
			PerSession: s.settings.DefaultPerSessionLimit,
			PerDay:     s.settings.DefaultPerDayLimit,
		}
	}
	pl := cfg.PlanTier.Limits()
	return usage.Limits{PerSession: pl.PerSession, PerDay: pl.PerDay}
}

// notifyTakeoverAsync alerts the owner without blocking or failing the
// turn. The detached context survives the request.
func (s *Service) notifyTakeoverAsync(cfg *clinic.ScheduleConfig, req TurnRequest, reason, message string) {
	if s.notifier == nil {
		return
	}
	alert := notify.TakeoverAlert{
		SessionID:  req.SessionID,
		Reason:     reason,
		LastUser:   message,
		OccurredAt: s.now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.NotifyTakeover(ctx, cfg, alert); err != nil {
			s.logger.Error("takeover notification failed", "clinic", cfg.Slug, "error", err)
		}
	}()
}

func guardBatch(history []ChatMessage, message string) []guard.Message {
	batch := make([]guard.Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role != ChatRoleUser && m.Role != ChatRoleAssistant {
			continue
		}
		batch = append(batch, guard.Message{Role: m.Role, Content: m.Content})
	}
	return append(batch, guard.Message{Role: "user", Content: message})
}

func appendTurn(history []ChatMessage, userMsg, reply string) []ChatMessage {
	out := append([]ChatMessage{}, history...)
	return append(out,
		ChatMessage{Role: ChatRoleUser, Content: userMsg},
		ChatMessage{Role: ChatRoleAssistant, Content: reply},
	)
}

// buildCalendarLink parses the tool's ISO time strings and renders the
// clinic's calendar deep link.
func buildCalendarLink(cfg *clinic.ScheduleConfig, startStr, endStr string) string {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return ""
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		end = start.Add(availability.SlotDuration)
	}
	return cfg.CalendarLink(start, end)
}
