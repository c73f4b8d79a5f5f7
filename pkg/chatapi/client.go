// Copyright 2024-2026 Aiku AI

// Package chatapi wraps an OpenAI-compatible chat completion API in a
// single-shot request/response client. It never retries: retry policy
// belongs to the caller, and here a failed completion surfaces to the
// peer as one error reply.
package chatapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"

	"github.com/aiku/xmpp-ai-bridge/pkg/history"
)

// Provider selects the API shape the configured endpoint speaks.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAzure      Provider = "azure"
	ProviderOpenRouter Provider = "openrouter"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Options bundles provider selection and per-call knobs. It is fixed
// at startup; every completion in the process uses the same options.
type Options struct {
	Provider   Provider
	BaseURL    string
	APIKey     string
	APIVersion string // Azure deployments only
	Model      string

	// ReasoningEffort is the discrete effort level ("minimal", "low",
	// "medium", "high"); empty leaves the provider default.
	ReasoningEffort string
	// ReasoningBudget is a token allowance for internal reasoning,
	// forwarded as OpenRouter's reasoning.max_tokens; 0 leaves it unset.
	ReasoningBudget int
	// Verbosity is the discrete response verbosity ("low", "medium",
	// "high"); empty leaves the provider default.
	Verbosity string

	// HTTPTimeout bounds a single completion call. Enforced here at the
	// caller side via context deadline.
	HTTPTimeout time.Duration
}

// Client issues chat completion requests. It is stateless between
// calls and safe for concurrent use.
type Client struct {
	api  openai.Client
	opts Options
	log  zerolog.Logger
}

// NewClient builds a client for the configured provider.
func NewClient(opts Options, log zerolog.Logger) *Client {
	// One attempt per call; the relay engine surfaces failures to the
	// peer instead of retrying.
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	switch opts.Provider {
	case ProviderAzure:
		reqOpts = append(reqOpts,
			azure.WithEndpoint(opts.BaseURL, opts.APIVersion),
			azure.WithAPIKey(opts.APIKey),
		)
	case ProviderOpenRouter:
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = openRouterBaseURL
		}
		reqOpts = append(reqOpts,
			option.WithAPIKey(opts.APIKey),
			option.WithBaseURL(baseURL),
		)
	default:
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
		if opts.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
		}
	}
	return &Client{
		api:  openai.NewClient(reqOpts...),
		opts: opts,
		log:  log.With().Str("component", "chatapi").Logger(),
	}
}

// Complete sends the conversation snapshot and returns the assistant
// reply. Failures map to the taxonomy: ErrTimeout, *BackendError, or
// *TransportError.
func (c *Client) Complete(ctx context.Context, snapshot []history.Message) (history.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HTTPTimeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.opts.Model),
		Messages: buildMessages(snapshot),
	}
	if c.opts.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(c.opts.ReasoningEffort)
	}
	if c.opts.Verbosity != "" {
		params.Verbosity = openai.ChatCompletionNewParamsVerbosity(c.opts.Verbosity)
	}

	var callOpts []option.RequestOption
	if c.opts.ReasoningBudget > 0 {
		callOpts = append(callOpts, option.WithJSONSet("reasoning.max_tokens", c.opts.ReasoningBudget))
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params, callOpts...)
	if err != nil {
		return history.Message{}, c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return history.Message{}, &BackendError{Message: "provider returned no choices"}
	}
	reply := resp.Choices[0].Message.Content
	c.log.Debug().
		Str("model", c.opts.Model).
		Dur("elapsed", time.Since(start)).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Completion finished")
	return history.Message{Role: history.RoleAssistant, Text: reply}, nil
}

func (c *Client) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.opts.HTTPTimeout)
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &BackendError{StatusCode: apierr.StatusCode, Message: apierr.Message}
	}
	return &TransportError{Err: err}
}

func buildMessages(snapshot []history.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(snapshot))
	for _, msg := range snapshot {
		switch msg.Role {
		case history.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text))
		case history.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Text))
		default:
			out = append(out, openai.UserMessage(msg.Text))
		}
	}
	return out
}
