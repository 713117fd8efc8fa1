// Package agent runs one grounded generation for a chat message: a single
// retrieval pass followed by a single model call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/history"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/protocol"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/retrieval"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/llm"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

const (
	defaultTimeout      = 90 * time.Second
	defaultHistoryTurns = 10
	maxPassageWords     = 400

	defaultReservedPassages = 5
	// passageTokenReserve is what one trimmed passage may cost in tokens.
	passageTokenReserve = maxPassageWords * 3 / 2
)

var ErrGenerationTimeout = errors.New("generation timed out")

// GenerationError is fatal for the request. It is never retried here.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) []retrieval.Passage
}

type Generator interface {
	Generate(ctx context.Context, messages []llm.Message) (llm.Result, error)
}

type UsageRecorder interface {
	RecordUsage(ctx context.Context, ownerID string, input, output int64)
}

type ProtocolExtractor interface {
	Extract(ctx context.Context, responseText, caseID, sessionID string) (*protocol.Instance, error)
}

// ProviderGenerator adapts an llm.Provider to Generator.
type ProviderGenerator struct {
	Provider llm.Provider
}

func (g ProviderGenerator) Generate(ctx context.Context, messages []llm.Message) (llm.Result, error) {
	return llm.Generate(ctx, g.Provider, messages)
}

type Config struct {
	Retriever    Retriever
	Generator    Generator
	Usage        UsageRecorder
	Extractor    ProtocolExtractor
	Logger       logging.Logger
	Timeout      time.Duration
	HistoryTurns int
	SystemPrompt string

	// ReservedPassages is how many passages EstimateInput budgets for,
	// normally the retrieval top-K.
	ReservedPassages int
}

type Agent struct {
	retriever    Retriever
	generator    Generator
	usage        UsageRecorder
	extractor    ProtocolExtractor
	logger       logging.Logger
	timeout      time.Duration
	historyTurns int
	systemPrompt string
	reserved     int
}

func New(cfg Config) *Agent {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = SystemPrompt
	}
	if cfg.ReservedPassages <= 0 {
		cfg.ReservedPassages = defaultReservedPassages
	}
	return &Agent{
		retriever:    cfg.Retriever,
		generator:    cfg.Generator,
		usage:        cfg.Usage,
		extractor:    cfg.Extractor,
		logger:       cfg.Logger,
		timeout:      cfg.Timeout,
		historyTurns: cfg.HistoryTurns,
		systemPrompt: cfg.SystemPrompt,
		reserved:     cfg.ReservedPassages,
	}
}

type Request struct {
	Message     string
	History     []history.Message
	Attachments []history.FileRef
}

type Result struct {
	Text     string
	Passages []retrieval.Passage
	Usage    llm.Usage
	Protocol *protocol.Instance
	// ProtocolErr is set when a protocol was found but could not be saved.
	// Text is still valid.
	ProtocolErr error
}

// Run retrieves once, generates once and returns the model text unmodified.
func (a *Agent) Run(ctx context.Context, req Request) (Result, error) {
	if a.generator == nil {
		return Result{}, &GenerationError{Err: errors.New("no generator configured")}
	}

	var passages []retrieval.Passage
	if a.retriever != nil {
		passages = a.retriever.Retrieve(ctx, req.Message)
	}
	messages := a.buildMessages(ctx, req, passages)

	start := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, a.timeout)
	generated, err := a.generator.Generate(genCtx, messages)
	timedOut := errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()
	generationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if timedOut {
			err = fmt.Errorf("%w: %w", ErrGenerationTimeout, err)
			generationsTotal.WithLabelValues("timeout").Inc()
		} else {
			generationsTotal.WithLabelValues("error").Inc()
		}
		a.logger.WithError(err).WithField("session_id", tenant.SessionID(ctx)).Error("Generation call failed")
		return Result{}, &GenerationError{Err: err}
	}
	generationsTotal.WithLabelValues("ok").Inc()

	var usage llm.Usage
	if generated.Usage != nil {
		usage = *generated.Usage
	}
	a.recordUsage(ctx, usage)

	result := Result{Text: generated.Text, Passages: passages, Usage: usage}
	if a.extractor != nil {
		inst, err := a.extractor.Extract(ctx, generated.Text, tenant.CaseID(ctx), tenant.SessionID(ctx))
		if err != nil {
			a.logger.WithError(err).WithField("case_id", tenant.CaseID(ctx)).Error("Failed to persist extracted protocol")
			result.ProtocolErr = err
		}
		result.Protocol = inst
	}
	return result, nil
}

// EstimateInput approximates the input tokens Run will spend on req: the
// prompt it builds from the same history window, plus room for a full set of
// retrieved passages.
func (a *Agent) EstimateInput(ctx context.Context, req Request) int64 {
	prompt := llm.EstimateTokens(a.buildMessages(ctx, req, nil))
	return prompt + int64(a.reserved*passageTokenReserve)
}

func (a *Agent) recordUsage(ctx context.Context, usage llm.Usage) {
	if a.usage == nil {
		return
	}
	userID := tenant.UserID(ctx)
	if userID == "" {
		a.logger.Debug("No caller identity, usage not recorded")
		return
	}
	a.usage.RecordUsage(ctx, userID, usage.InputTokens, usage.OutputTokens)
}

func (a *Agent) buildMessages(ctx context.Context, req Request, passages []retrieval.Passage) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: a.systemPrompt}}

	if summary := strings.TrimSpace(tenant.CaseSummary(ctx)); summary != "" {
		messages = append(messages, llm.Message{Role: "system", Content: "Resumen del caso activo:\n" + summary})
	}

	if len(passages) == 0 {
		messages = append(messages, llm.Message{Role: "system", Content: noContextNotice})
	} else {
		messages = append(messages, llm.Message{Role: "system", Content: formatPassages(passages)})
	}

	if len(req.Attachments) > 0 {
		var b strings.Builder
		b.WriteString("Archivos adjuntos por el usuario:")
		for _, f := range req.Attachments {
			name := f.Name
			if name == "" {
				name = f.URI
			}
			fmt.Fprintf(&b, "\n- %s (%s)", name, f.URI)
		}
		messages = append(messages, llm.Message{Role: "system", Content: b.String()})
	}

	turns := req.History
	if len(turns) > a.historyTurns {
		turns = turns[len(turns)-a.historyTurns:]
	}
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		role := turn.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}

	return append(messages, llm.Message{Role: "user", Content: req.Message})
}

func formatPassages(passages []retrieval.Passage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Contexto recuperado (%s):\n\n", untrustedContextLabel)
	for i, p := range passages {
		label := "Reglamento interno"
		if p.SourceKind == retrieval.SourceExternalRegulation {
			label = "Normativa"
		}
		fmt.Fprintf(&b, "[%d. %s: %s]\n", i+1, label, p.Title)
		b.WriteString(trimWords(p.Body, maxPassageWords))
		if i < len(passages)-1 {
			b.WriteString("\n---\n")
		}
	}
	return b.String()
}

func trimWords(content string, maxWords int) string {
	parts := strings.Fields(content)
	if len(parts) <= maxWords {
		return strings.TrimSpace(content)
	}
	return strings.Join(parts[:maxWords], " ")
}
