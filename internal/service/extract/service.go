// Package extract pulls structured listing fields out of free text with an
// LLM, optionally letting it look addresses up on the web.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"listingbot/internal/config"
	"listingbot/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const defaultTimeout = 30 * time.Second

// Options tune a Service.
type Options struct {
	Prompt  string
	Tools   []tool.BaseTool
	Timeout time.Duration
}

// Service is the LLM-backed extractor.
type Service struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
	prompt    string
	timeout   time.Duration
}

// New wraps a chat model. With tools, extraction runs through a react agent
// so the model can call them.
func New(ctx context.Context, chatModel model.ToolCallingChatModel, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	s := &Service{
		chatModel: chatModel,
		prompt:    opts.Prompt,
		timeout:   opts.Timeout,
	}
	if s.prompt == "" {
		s.prompt = defaultPrompt
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if len(opts.Tools) > 0 {
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: opts.Tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		s.agent = agent
	}
	return s, nil
}

// NewFromConfig builds the extractor named by cfg.Extraction.Provider.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Service, error) {
	provider := cfg.Extraction.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	modelName := cfg.Extraction.Model
	if modelName == "" {
		modelName = provCfg.Model
	}
	chatModel, err := newChatModel(ctx, provider, provCfg, modelName)
	if err != nil {
		return nil, err
	}

	opts := Options{Timeout: time.Duration(cfg.Extraction.TimeoutSec) * time.Second}
	if cfg.Extraction.PromptFile != "" {
		prompt, err := loadPrompt(ctx, cfg.Extraction.PromptFile)
		if err != nil {
			return nil, err
		}
		opts.Prompt = prompt
	}
	if cfg.Extraction.SearchEnabled {
		if lookup := newGeocodeTool(); lookup != nil {
			opts.Tools = append(opts.Tools, lookup)
		}
	}
	return New(ctx, chatModel, opts)
}

func newChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, modelName string) (model.ToolCallingChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if cerr != nil {
			return nil, fmt.Errorf("init gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 1024,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

// Extract asks the model for the listing fields found in text. hint is the
// location the user supplied, if any.
func (s *Service) Extract(ctx context.Context, text string, hint *models.Location) (*models.Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msgs := []*schema.Message{
		schema.SystemMessage(s.prompt),
		schema.UserMessage(buildUserPrompt(text, hint)),
	}
	var (
		out *schema.Message
		err error
	)
	if s.agent != nil {
		out, err = s.agent.Generate(ctx, msgs)
	} else {
		out, err = s.chatModel.Generate(ctx, msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("generate extraction: %w", err)
	}
	if out == nil {
		return nil, errors.New("model returned no message")
	}
	ext, err := ParseExtraction(out.Content)
	if err != nil {
		log.Printf("extraction reply not parseable: %v", err)
		return nil, err
	}
	return ext, nil
}
