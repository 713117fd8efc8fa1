package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/llm"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

// Labels the classifier is asked to choose from.
const (
	LabelCaseQuery        = "case_query"
	LabelProtocolRequest  = "protocol_request"
	LabelDocumentAnalysis = "document_analysis"
	LabelRegulatory       = "regulatory_question"
	LabelEmailDraft       = "email_draft"
	LabelCalendar         = "calendar"
	LabelSmallTalk        = "small_talk"
	LabelUnknown          = "unknown"
)

var knownLabels = map[string]bool{
	LabelCaseQuery:        true,
	LabelProtocolRequest:  true,
	LabelDocumentAnalysis: true,
	LabelRegulatory:       true,
	LabelEmailDraft:       true,
	LabelCalendar:         true,
	LabelSmallTalk:        true,
	LabelUnknown:          true,
}

var ErrMalformedOutput = errors.New("intent: malformed classifier output")

// Classification is produced once per message and never mutated.
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type Classifier interface {
	Classify(ctx context.Context, message, hint string) (Classification, error)
}

const defaultClassifyTimeout = 15 * time.Second

const classifyPrompt = `Eres un clasificador de intenciones para un asistente de convivencia escolar.
Clasifica el mensaje del usuario en una de estas etiquetas:
case_query, protocol_request, document_analysis, regulatory_question, email_draft, calendar, small_talk, unknown.
Responde solo con JSON: {"label": "...", "confidence": 0.0-1.0, "rationale": "..."}`

// UsageRecorder receives the tokens a classification consumed.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ownerID string, input, output int64)
}

// LLMClassifier asks a utility model for a label and parses its JSON answer.
type LLMClassifier struct {
	provider llm.Provider
	usage    UsageRecorder
	timeout  time.Duration
	logger   logging.Logger
}

func NewLLMClassifier(provider llm.Provider, usage UsageRecorder, timeout time.Duration, logger logging.Logger) *LLMClassifier {
	if timeout <= 0 {
		timeout = defaultClassifyTimeout
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &LLMClassifier{provider: provider, usage: usage, timeout: timeout, logger: logger}
}

// EstimateInput approximates the prompt tokens Classify sends for message.
func EstimateInput(message, hint string) int64 {
	return llm.EstimateTokens(classifyMessages(message, hint))
}

func classifyMessages(message, hint string) []llm.Message {
	user := message
	if strings.TrimSpace(hint) != "" {
		user = "Contexto: " + hint + "\n\nMensaje: " + message
	}
	return []llm.Message{
		{Role: "system", Content: classifyPrompt},
		{Role: "user", Content: user},
	}
}

// Classify returns an unknown label with zero confidence when the model
// answer cannot be parsed, so the caller falls through to clarification.
// Reported usage is recorded for the caller in ctx either way.
func (c *LLMClassifier) Classify(ctx context.Context, message, hint string) (Classification, error) {
	if c == nil || c.provider == nil {
		return Classification{Label: LabelUnknown}, errors.New("intent: classifier not configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := llm.Generate(callCtx, c.provider, classifyMessages(message, hint))
	if err != nil {
		return Classification{Label: LabelUnknown}, fmt.Errorf("intent: classify: %w", err)
	}
	c.recordUsage(ctx, result.Usage)

	classification, err := parseClassification(result.Text)
	if err != nil {
		c.logger.WithError(err).Warn("Intent classifier returned unparseable output")
		return Classification{Label: LabelUnknown}, nil
	}
	return classification, nil
}

func (c *LLMClassifier) recordUsage(ctx context.Context, usage *llm.Usage) {
	if c.usage == nil || usage == nil {
		return
	}
	userID := tenant.UserID(ctx)
	if userID == "" {
		c.logger.Debug("No caller identity, classifier usage not recorded")
		return
	}
	c.usage.RecordUsage(ctx, userID, usage.InputTokens, usage.OutputTokens)
}

func parseClassification(raw string) (Classification, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Classification{}, ErrMalformedOutput
	}

	var out Classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return Classification{}, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	out.Label = strings.ToLower(strings.TrimSpace(out.Label))
	if !knownLabels[out.Label] {
		out.Label = LabelUnknown
	}
	out.Confidence = min(max(out.Confidence, 0), 1)
	return out, nil
}
