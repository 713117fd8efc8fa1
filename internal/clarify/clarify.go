// Package clarify decides when a classified message is too ambiguous to act on
// and builds the follow-up question shown to the user.
package clarify

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/intent"
)

// Threshold is inclusive: a confidence equal to it proceeds.
const Threshold = 0.6

const maxOptions = 4

type Option struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type Clarification struct {
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

func ShouldClarify(c intent.Classification) bool {
	return c.Confidence < Threshold
}

type optionSet struct {
	key      string
	keywords []string
	options  func(activeCaseID string) []Option
}

// Order is precedence order. Matches are always emitted in this order
// regardless of where the keyword appears in the message.
var optionSets = []optionSet{
	{
		key:      "document",
		keywords: []string{"documento", "archivo", "pdf", "imagen", "adjunto", "informe", "foto"},
		options: func(string) []Option {
			return []Option{
				{Key: "document_summary", Label: "Resumir el documento adjunto"},
				{Key: "document_analysis", Label: "Analizar el documento en relación al caso"},
			}
		},
	},
	{
		key:      "case",
		keywords: []string{"caso", "estudiante", "alumno", "apoderado", "denuncia", "seguimiento"},
		options: func(activeCaseID string) []Option {
			if activeCaseID != "" {
				return []Option{{Key: "case_status", Label: fmt.Sprintf("Revisar el estado del caso %s", activeCaseID)}}
			}
			return []Option{{Key: "case_lookup", Label: "Buscar un caso registrado"}}
		},
	},
	{
		key:      "regulatory",
		keywords: []string{"protocolo", "normativa", "ley", "reglamento", "circular", "superintendencia", "rice", "mineduc"},
		options: func(string) []Option {
			return []Option{
				{Key: "protocol_steps", Label: "Ver los pasos del protocolo que corresponde"},
				{Key: "regulatory_question", Label: "Consultar qué dice la normativa"},
			}
		},
	},
	{
		key:      "email",
		keywords: []string{"correo", "email", "mail", "carta", "comunicado", "citación"},
		options: func(string) []Option {
			return []Option{{Key: "email_draft", Label: "Redactar un correo o comunicado"}}
		},
	},
	{
		key:      "calendar",
		keywords: []string{"reunión", "reunion", "agendar", "calendario", "fecha", "entrevista", "plazo"},
		options: func(string) []Option {
			return []Option{{Key: "calendar_schedule", Label: "Agendar una reunión o entrevista"}}
		},
	},
}

var fallbackOptions = []Option{
	{Key: "case_lookup", Label: "Consultar sobre un caso de convivencia"},
	{Key: "regulatory_question", Label: "Resolver una duda sobre normativa o protocolos"},
	{Key: "email_draft", Label: "Redactar un documento o comunicado"},
}

// BuildClarification is a pure function of its inputs.
func BuildClarification(message string, c intent.Classification, hasFiles bool, activeCaseID string) Clarification {
	text := fold(message)

	var options []Option
	seen := make(map[string]bool)
	for _, set := range optionSets {
		if !set.matches(text, hasFiles, activeCaseID) {
			continue
		}
		for _, opt := range set.options(activeCaseID) {
			if seen[opt.Key] || len(options) >= maxOptions {
				continue
			}
			seen[opt.Key] = true
			options = append(options, opt)
		}
	}
	if len(options) == 0 {
		options = append([]Option(nil), fallbackOptions...)
	}

	return Clarification{Text: render(options), Options: options}
}

func (s optionSet) matches(folded string, hasFiles bool, activeCaseID string) bool {
	switch s.key {
	case "document":
		if hasFiles {
			return true
		}
	case "case":
		if activeCaseID != "" {
			return true
		}
	}
	for _, kw := range s.keywords {
		if strings.Contains(folded, fold(kw)) {
			return true
		}
	}
	return false
}

func render(options []Option) string {
	var b strings.Builder
	b.WriteString("No estoy seguro de haber entendido tu solicitud. ¿Qué te gustaría hacer?\n")
	for i, opt := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
	}
	return b.String()
}

// fold strips accents and case so "reunión" and "REUNION" match the same keyword.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}
