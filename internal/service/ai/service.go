package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
	"github.com/zhouzirui/agent-salon/backend/internal/service/artifact"
	sessionsvc "github.com/zhouzirui/agent-salon/backend/internal/service/session"
)

// ModelFactory creates a chat model for a model name. An empty name selects
// the configured default.
type ModelFactory func(ctx context.Context, modelName string) (model.ChatModel, error)

type chatChain = compose.Runnable[map[string]any, *schema.Message]

// Service answers for agents and narrates artifacts. Agents with the mock
// provider never reach a model; ark agents share one compiled chain per
// model name.
type Service struct {
	factory ModelFactory
	logger  *slog.Logger

	mu     sync.Mutex
	chains map[string]chatChain
}

// NewService creates the AI service. factory may be nil when no model is
// configured; ark agents then fail with ErrUpstreamUnavailable.
func NewService(factory ModelFactory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		factory: factory,
		logger:  logger.With("component", "ai"),
		chains:  make(map[string]chatChain),
	}
}

// Respond implements the session responder.
func (s *Service) Respond(ctx context.Context, req sessionsvc.ResponseRequest) (string, error) {
	if req.Agent.Provider == agent.ProviderMock {
		return mockReply(mockPrompt(req), req.Agent.Model), nil
	}

	chain, err := s.chainFor(ctx, req.Agent.Model)
	if err != nil {
		return "", err
	}

	input := map[string]any{
		"system":  BuildSystemPrompt(req.Agent, req.Participants, req.Topic),
		"history": buildHistoryMessages(req.Agent.ID, participantNames(req.Participants), req.History),
		"query":   buildQuery(req),
	}
	reply, err := s.invoke(ctx, chain, input)
	if err != nil {
		return "", err
	}

	s.logger.Info("generated response", "session_id", req.SessionID, "agent_id", req.Agent.ID, "length", len(reply))
	return reply, nil
}

// Narrate implements the artifact narrator using the lead agent's provider.
func (s *Service) Narrate(ctx context.Context, req artifact.NarrationRequest) (string, error) {
	if req.Agent.Provider == agent.ProviderMock {
		return mockReply(req.Input, req.Agent.Model), nil
	}

	chain, err := s.chainFor(ctx, req.Agent.Model)
	if err != nil {
		return "", err
	}

	input := map[string]any{
		"system":  req.Instructions,
		"history": []*schema.Message{},
		"query":   req.Input,
	}
	text, err := s.invoke(ctx, chain, input)
	if err != nil {
		return "", err
	}

	s.logger.Info("generated artifact", "session_id", req.SessionID, "kind", req.Kind, "length", len(text))
	return text, nil
}

func (s *Service) invoke(ctx context.Context, chain chatChain, input map[string]any) (string, error) {
	msg, err := chain.Invoke(ctx, input)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: run chat chain: %v", session.ErrUpstreamUnavailable, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w: model returned an empty message", session.ErrUpstreamUnavailable)
	}
	return msg.Content, nil
}

func (s *Service) chainFor(ctx context.Context, modelName string) (chatChain, error) {
	if s.factory == nil {
		return nil, fmt.Errorf("%w: chat model is not configured", session.ErrUpstreamUnavailable)
	}

	s.mu.Lock()
	chain, ok := s.chains[modelName]
	s.mu.Unlock()
	if ok {
		return chain, nil
	}

	// built outside the lock; a concurrent builder for the same model loses
	chatModel, err := s.factory(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("%w: create chat model: %v", session.ErrUpstreamUnavailable, err)
	}
	built, err := compileChain(ctx, chatModel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if chain, ok := s.chains[modelName]; ok {
		return chain, nil
	}
	s.chains[modelName] = built
	return built, nil
}

func compileChain(ctx context.Context, chatModel model.ChatModel) (chatChain, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is nil")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return runnable, nil
}
