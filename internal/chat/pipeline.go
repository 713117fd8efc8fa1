package chat

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/agent"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/cases"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/clarify"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/history"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/intent"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/protocol"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/references"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

const (
	defaultHistoryMessages = 20
	titleMaxRunes          = 60
)

type SessionRepository interface {
	CreateSession(ctx context.Context, organizationID, userID, caseID string) (string, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]history.Message, error)
	AddMessage(ctx context.Context, sessionID, role, content string, attachments []history.FileRef) error
	UpdateTitle(ctx context.Context, sessionID, title string) error
}

type CaseReader interface {
	GetCase(ctx context.Context, id string) (*cases.Case, error)
}

type IndexResolver interface {
	RetrievalIndex(ctx context.Context, organizationID string) (string, error)
}

type LimitChecker interface {
	CheckLimits(ctx context.Context, ownerID string, estimatedInput int64) error
}

type Runner interface {
	Run(ctx context.Context, req agent.Request) (agent.Result, error)
	EstimateInput(ctx context.Context, req agent.Request) int64
}

type PipelineConfig struct {
	Sessions        SessionRepository
	Cases           CaseReader
	Indexes         IndexResolver
	Classifier      intent.Classifier
	Limits          LimitChecker
	Agent           Runner
	Logger          logging.Logger
	HistoryMessages int
	FileWindow      int
}

// Pipeline runs one inbound chat message end to end: clarification, history
// attachments, the limit gate, the grounded generation and the citations.
type Pipeline struct {
	sessions        SessionRepository
	cases           CaseReader
	indexes         IndexResolver
	classifier      intent.Classifier
	limits          LimitChecker
	agent           Runner
	logger          logging.Logger
	historyMessages int
	fileWindow      int
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDiscardLogger()
	}
	if cfg.HistoryMessages <= 0 {
		cfg.HistoryMessages = defaultHistoryMessages
	}
	if cfg.FileWindow <= 0 {
		cfg.FileWindow = history.DefaultWindow
	}
	return &Pipeline{
		sessions:        cfg.Sessions,
		cases:           cfg.Cases,
		indexes:         cfg.Indexes,
		classifier:      cfg.Classifier,
		limits:          cfg.Limits,
		agent:           cfg.Agent,
		logger:          cfg.Logger,
		historyMessages: cfg.HistoryMessages,
		fileWindow:      cfg.FileWindow,
	}
}

type Input struct {
	OrganizationID string
	Caller         tenant.Caller
	SessionID      string
	CaseID         string
	Message        string
	Attachments    []history.FileRef
}

type Output struct {
	SessionID      string
	Response       string
	Clarification  *clarify.Clarification
	Classification intent.Classification
	Protocol       *protocol.Instance
	ProtocolErr    error
}

func (p *Pipeline) Process(ctx context.Context, in Input) (Output, error) {
	ctx = tenant.WithContext(ctx, tenant.Context{OrganizationID: in.OrganizationID, Caller: in.Caller})

	sessionID, caseID, isNew, err := p.resolveSession(ctx, in)
	if err != nil {
		return Output{}, err
	}
	out := Output{SessionID: sessionID}

	var (
		turns   []history.Message
		record  *cases.Case
		indexID string
	)
	g, gctx := errgroup.WithContext(ctx)
	if !isNew {
		g.Go(func() error {
			var err error
			turns, err = p.sessions.GetRecentMessages(gctx, sessionID, p.historyMessages)
			return err
		})
	}
	if caseID != "" && p.cases != nil {
		g.Go(func() error {
			var err error
			record, err = p.cases.GetCase(gctx, caseID)
			return err
		})
	}
	if p.indexes != nil {
		g.Go(func() error {
			var err error
			indexID, err = p.indexes.RetrievalIndex(gctx, in.OrganizationID)
			if err != nil {
				// Retrieval degrades to no context without an index.
				p.logger.WithError(err).WithField("organization_id", in.OrganizationID).Warn("Failed to resolve retrieval index")
				indexID = ""
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Output{}, err
	}

	tc := tenant.Context{
		RetrievalIndexID: indexID,
		OrganizationID:   in.OrganizationID,
		CaseID:           caseID,
		SessionID:        sessionID,
		Caller:           in.Caller,
	}
	if record != nil {
		tc.CaseSummary = record.Summary
	}
	ctx = tenant.WithContext(ctx, tc)

	// Classification is a model call of its own.
	if p.classifier != nil && p.limits != nil {
		if err := p.limits.CheckLimits(ctx, in.Caller.UserID, intent.EstimateInput(in.Message, tc.CaseSummary)); err != nil {
			return Output{}, err
		}
	}

	classification := p.classify(ctx, in.Message, tc.CaseSummary)
	out.Classification = classification
	if clarify.ShouldClarify(classification) {
		clarification := clarify.BuildClarification(in.Message, classification, len(in.Attachments) > 0, caseID)
		clarificationsTotal.Inc()
		if err := p.persistTurn(ctx, sessionID, in.Message, in.Attachments, clarification.Text); err != nil {
			return Output{}, err
		}
		p.maybeSetTitle(ctx, isNew, sessionID, in.Message)
		out.Response = clarification.Text
		out.Clarification = &clarification
		return out, nil
	}

	attachments := in.Attachments
	if history.ShouldUseHistory(in.Message, len(attachments) > 0) {
		attachments = history.ExtractRecentFiles(turns, p.fileWindow)
		historyFilesRecovered.Add(float64(len(attachments)))
	}

	req := agent.Request{Message: in.Message, History: turns, Attachments: attachments}
	if p.limits != nil {
		if err := p.limits.CheckLimits(ctx, in.Caller.UserID, p.agent.EstimateInput(ctx, req)); err != nil {
			return Output{}, err
		}
	}

	if err := p.sessions.AddMessage(ctx, sessionID, "user", in.Message, attachments); err != nil {
		return Output{}, err
	}

	result, err := p.agent.Run(ctx, req)
	if err != nil {
		return Output{}, err
	}

	response := result.Text
	highlight := ""
	if len(attachments) > 0 {
		highlight = attachments[0].Name
	}
	if refs := references.Format(result.Passages, highlight); refs != "" {
		response = strings.TrimRight(response, "\n") + "\n\n" + refs
	}

	if err := p.sessions.AddMessage(context.WithoutCancel(ctx), sessionID, "assistant", response, nil); err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to store assistant response")
	}
	p.maybeSetTitle(ctx, isNew, sessionID, in.Message)

	out.Response = response
	out.Protocol = result.Protocol
	out.ProtocolErr = result.ProtocolErr
	return out, nil
}

func (p *Pipeline) resolveSession(ctx context.Context, in Input) (sessionID, caseID string, isNew bool, err error) {
	caseID = strings.TrimSpace(in.CaseID)
	sessionID = strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID, err = p.sessions.CreateSession(ctx, in.OrganizationID, in.Caller.UserID, caseID)
		return sessionID, caseID, true, err
	}
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", "", false, err
	}
	if caseID == "" {
		caseID = session.CaseID
	}
	return sessionID, caseID, false, nil
}

// classify falls back to a confident unknown label when the classifier is
// unavailable, so an outage never turns every message into a clarification.
func (p *Pipeline) classify(ctx context.Context, message, hint string) intent.Classification {
	if p.classifier == nil {
		return intent.Classification{Label: intent.LabelUnknown, Confidence: 1}
	}
	c, err := p.classifier.Classify(ctx, message, hint)
	if err != nil {
		p.logger.WithError(err).Warn("Intent classification failed, proceeding without clarification")
		return intent.Classification{Label: intent.LabelUnknown, Confidence: 1}
	}
	return c
}

func (p *Pipeline) persistTurn(ctx context.Context, sessionID, message string, attachments []history.FileRef, reply string) error {
	if err := p.sessions.AddMessage(ctx, sessionID, "user", message, attachments); err != nil {
		return err
	}
	if err := p.sessions.AddMessage(context.WithoutCancel(ctx), sessionID, "assistant", reply, nil); err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to store clarification")
	}
	return nil
}

func (p *Pipeline) maybeSetTitle(ctx context.Context, isNew bool, sessionID, message string) {
	if !isNew {
		return
	}
	if err := p.sessions.UpdateTitle(context.WithoutCancel(ctx), sessionID, truncateTitle(message, titleMaxRunes)); err != nil {
		p.logger.WithError(err).Warn("Failed to set session title")
	}
}

func truncateTitle(message string, maxLen int) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= maxLen {
		return message
	}
	truncated := string(runes[:maxLen])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxLen/2 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

// IsNotFound reports whether err means a session or case the caller cannot see.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, cases.ErrCaseNotFound)
}
