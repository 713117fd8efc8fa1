package intent

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/llm"
)

type fakeProvider struct {
	response string
	usage    *llm.Usage
	err      error
	messages []llm.Message
}

func (f *fakeProvider) Complete(_ context.Context, messages []llm.Message) (llm.Stream, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &singleChunkStream{content: f.response, usage: f.usage}, nil
}

type singleChunkStream struct {
	content  string
	usage    *llm.Usage
	consumed bool
}

func (s *singleChunkStream) Recv() (llm.Chunk, error) {
	if s.consumed {
		return llm.Chunk{}, io.EOF
	}
	s.consumed = true
	return llm.Chunk{Content: s.content, Usage: s.usage}, nil
}

func (s *singleChunkStream) Close() error { return nil }

func TestClassifyParsesJSON(t *testing.T) {
	provider := &fakeProvider{response: "```json\n{\"label\":\"Protocol_Request\",\"confidence\":0.92,\"rationale\":\"pide protocolo\"}\n```"}
	c := NewLLMClassifier(provider, nil, 0, nil)

	got, err := c.Classify(context.Background(), "necesito el protocolo de acoso", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Label != LabelProtocolRequest || got.Confidence != 0.92 {
		t.Fatalf("unexpected classification: %+v", got)
	}
}

func TestClassifyIncludesHint(t *testing.T) {
	provider := &fakeProvider{response: `{"label":"case_query","confidence":0.7}`}
	c := NewLLMClassifier(provider, nil, 0, nil)

	if _, err := c.Classify(context.Background(), "y el caso?", "caso activo 12"); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(provider.messages) != 2 || provider.messages[1].Content != "Contexto: caso activo 12\n\nMensaje: y el caso?" {
		t.Fatalf("unexpected prompt: %+v", provider.messages)
	}
}

func TestClassifyMalformedOutputIsUnknown(t *testing.T) {
	provider := &fakeProvider{response: "no se"}
	c := NewLLMClassifier(provider, nil, 0, nil)

	got, err := c.Classify(context.Background(), "hola", "")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.Label != LabelUnknown || got.Confidence != 0 {
		t.Fatalf("expected unknown/0, got %+v", got)
	}
}

func TestClassifyProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("boom")}
	c := NewLLMClassifier(provider, nil, 0, nil)

	if _, err := c.Classify(context.Background(), "hola", ""); err == nil {
		t.Fatal("expected error")
	}
}

type usageCall struct {
	ownerID       string
	input, output int64
}

type fakeUsage struct {
	calls []usageCall
}

func (f *fakeUsage) RecordUsage(_ context.Context, ownerID string, input, output int64) {
	f.calls = append(f.calls, usageCall{ownerID: ownerID, input: input, output: output})
}

func TestClassifyRecordsUsageForCaller(t *testing.T) {
	provider := &fakeProvider{
		response: "sin formato",
		usage:    &llm.Usage{InputTokens: 120, OutputTokens: 15},
	}
	usage := &fakeUsage{}
	c := NewLLMClassifier(provider, usage, 0, nil)

	ctx := tenant.WithContext(context.Background(), tenant.Context{
		OrganizationID: "org-1",
		Caller:         tenant.Caller{UserID: "user-1"},
	})
	if _, err := c.Classify(ctx, "hola", ""); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(usage.calls) != 1 || usage.calls[0] != (usageCall{ownerID: "user-1", input: 120, output: 15}) {
		t.Fatalf("unexpected usage records %+v", usage.calls)
	}

	// Without a caller there is no owner to charge.
	if _, err := c.Classify(context.Background(), "hola", ""); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(usage.calls) != 1 {
		t.Fatalf("usage recorded without a caller: %+v", usage.calls)
	}
}

func TestEstimateInputCoversPrompt(t *testing.T) {
	message := strings.Repeat("palabra ", 200)
	withoutHint := EstimateInput(message, "")
	if withoutHint < int64(len(message)/4) {
		t.Fatalf("estimate %d is below the message alone", withoutHint)
	}
	if withHint := EstimateInput(message, "Conflicto en 8° básico"); withHint <= withoutHint {
		t.Fatalf("hint not counted: %d <= %d", withHint, withoutHint)
	}
}

func TestParseClassificationClampsAndNormalizes(t *testing.T) {
	tests := []struct {
		raw   string
		label string
		conf  float64
	}{
		{`{"label":"calendar","confidence":1.7}`, LabelCalendar, 1},
		{`{"label":"weather","confidence":0.5}`, LabelUnknown, 0.5},
		{`respuesta: {"label":"email_draft","confidence":-2}`, LabelEmailDraft, 0},
	}
	for _, tt := range tests {
		got, err := parseClassification(tt.raw)
		if err != nil {
			t.Fatalf("parseClassification(%q): %v", tt.raw, err)
		}
		if got.Label != tt.label || got.Confidence != tt.conf {
			t.Fatalf("parseClassification(%q) = %+v", tt.raw, got)
		}
	}
	if _, err := parseClassification(`{"label":`); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}
