package protocol

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/cases"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

var (
	protocolTagPattern = regexp.MustCompile(`(?is)<protocol>(.*?)</protocol>`)
	jsonFencePattern   = regexp.MustCompile("(?s)```json\\s*(.*?)```")
)

// CaseUpdater is the part of the case store the extractor writes to.
type CaseUpdater interface {
	UpdateCase(ctx context.Context, id string, update cases.Update) error
}

type Extractor struct {
	store  Store
	cases  CaseUpdater
	logger logging.Logger
}

func NewExtractor(store Store, caseUpdater CaseUpdater, logger logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Extractor{store: store, cases: caseUpdater, logger: logger}
}

// Extract looks for a protocol payload in a model answer and creates or
// merges the case's protocol instance. A missing or malformed payload is not
// an error and yields (nil, nil). Persistence failures are returned.
func (e *Extractor) Extract(ctx context.Context, responseText, caseID, sessionID string) (*Instance, error) {
	if caseID == "" {
		return nil, nil
	}
	raw, ok := findPayload(responseText)
	if !ok {
		extractionsTotal.WithLabelValues("none").Inc()
		return nil, nil
	}
	p, err := decodePayload([]byte(raw))
	if err != nil {
		extractionsTotal.WithLabelValues("malformed").Inc()
		e.logger.WithError(err).WithField("case_id", caseID).Warn("Discarding malformed protocol payload")
		return nil, nil
	}

	// Persist even when the request goes away mid-write.
	ctx = context.WithoutCancel(ctx)

	var outcome string
	inst, err := e.store.UpdateProtocol(ctx, caseID, func(current *Instance) (*Instance, error) {
		if current == nil {
			outcome = "created"
			return newInstance(p, caseID, sessionID), nil
		}
		merged, changed := merge(current, p)
		if !changed {
			outcome = "unchanged"
			return nil, nil
		}
		outcome = "merged"
		merged.UpdatedAt = now().UTC()
		return merged, nil
	})
	if err != nil {
		extractionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("save protocol: %w", err)
	}
	extractionsTotal.WithLabelValues(outcome).Inc()
	if outcome == "created" {
		e.markCase(ctx, inst)
	}
	return inst, nil
}

// markCase records the new protocol on the case. The protocol row is already
// saved, so a failure here is only logged.
func (e *Extractor) markCase(ctx context.Context, inst *Instance) {
	if e.cases == nil {
		return
	}
	status := cases.StatusProtocolActive
	update := cases.Update{Status: &status, ProtocolName: &inst.ProtocolName}
	if inst.SeverityLevel != "" {
		update.SeverityLevel = &inst.SeverityLevel
	}
	if err := e.cases.UpdateCase(ctx, inst.CaseID, update); err != nil {
		e.logger.WithError(err).WithField("case_id", inst.CaseID).Warn("Failed to mark case with protocol")
	}
}

func newInstance(p *payload, caseID, sessionID string) *Instance {
	ts := now().UTC()
	inst := &Instance{
		CaseID:        caseID,
		SessionID:     sessionID,
		ProtocolName:  strings.TrimSpace(p.ProtocolName),
		Category:      p.Category,
		SeverityLevel: p.SeverityLevel,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	seen := make(map[int]bool, len(p.Steps))
	for _, ps := range p.Steps {
		if seen[ps.ID] {
			continue
		}
		seen[ps.ID] = true
		inst.Steps = append(inst.Steps, stepFromPayload(ps))
	}
	inst.recompute()
	return inst
}

// merge appends steps the instance does not know yet. Existing steps are
// never touched, so a completed step cannot regress.
func merge(existing *Instance, p *payload) (*Instance, bool) {
	out := existing.Clone()
	changed := false
	for _, ps := range p.Steps {
		if out.step(ps.ID) != nil {
			continue
		}
		out.Steps = append(out.Steps, stepFromPayload(ps))
		changed = true
	}
	if out.Category == "" && p.Category != "" {
		out.Category = p.Category
		changed = true
	}
	if out.SeverityLevel == "" && p.SeverityLevel != "" {
		out.SeverityLevel = p.SeverityLevel
		changed = true
	}
	out.recompute()
	return out, changed
}

func stepFromPayload(ps payloadStep) Step {
	mandatory := true
	if ps.IsMandatory != nil {
		mandatory = *ps.IsMandatory
	}
	return Step{
		ID:               ps.ID,
		Title:            strings.TrimSpace(ps.Title),
		Description:      strings.TrimSpace(ps.Description),
		Status:           StatusPending,
		EvidenceRefs:     []string{},
		IsMandatory:      mandatory,
		ResponsibleRoles: ps.ResponsibleRoles,
		Deadline:         ps.Deadline,
	}
}

// findPayload returns the first JSON object inside a <protocol> tag, or
// inside a ```json fence that mentions protocol_name.
func findPayload(text string) (string, bool) {
	for _, m := range protocolTagPattern.FindAllStringSubmatch(text, -1) {
		if obj, ok := firstObject(m[1]); ok {
			return obj, true
		}
	}
	for _, m := range jsonFencePattern.FindAllStringSubmatch(text, -1) {
		if !strings.Contains(m[1], `"protocol_name"`) {
			continue
		}
		if obj, ok := firstObject(m[1]); ok {
			return obj, true
		}
	}
	return "", false
}

// firstObject scans for the first balanced {...}, skipping braces inside
// JSON strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
