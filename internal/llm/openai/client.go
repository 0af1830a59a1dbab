package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/dwizi/mind-bridge/internal/llm"
)

type Config struct {
	APIKey    string
	OrgID     string
	ProjectID string
	BaseURL   string
	Timeout   time.Duration
	Profile   llm.ModelProfile
}

type Client struct {
	cfg    Config
	api    sdk.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.Profile.Name) == "" {
		cfg.Profile.Name = "gpt-3.5-turbo"
	}
	if strings.TrimSpace(cfg.Profile.ReasoningEffort) == "" {
		cfg.Profile.ReasoningEffort = "medium"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + "/"),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0),
	}
	if org := strings.TrimSpace(cfg.OrgID); org != "" {
		opts = append(opts, option.WithOrganization(org))
	}
	if project := strings.TrimSpace(cfg.ProjectID); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	return &Client{
		cfg:    cfg,
		api:    sdk.NewClient(opts...),
		logger: logger,
	}
}

func (c *Client) Profile() llm.ModelProfile {
	return c.cfg.Profile
}

func (c *Client) Complete(ctx context.Context, request llm.Request) (string, error) {
	if requiresAPIKey(c.cfg.BaseURL) && strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", fmt.Errorf("%w: missing API key for %s", llm.ErrUnavailable, c.cfg.BaseURL)
	}
	if len(request.Turns) == 0 {
		return "", nil
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.cfg.Profile.Name),
		Messages: toMessages(request.Turns),
	}
	if c.cfg.Profile.IsReasoning() {
		if request.MaxTokens > 0 {
			params.MaxCompletionTokens = sdk.Int(int64(request.MaxTokens))
		}
		params.ReasoningEffort = shared.ReasoningEffort(c.cfg.Profile.ReasoningEffort)
	} else {
		if request.MaxTokens > 0 {
			params.MaxTokens = sdk.Int(int64(request.MaxTokens))
		}
		params.Temperature = sdk.Float(request.Temperature)
	}

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.Error("openai chat completion failed", "model", c.cfg.Profile.Name, "error", err)
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai response returned no choices")
	}
	return sanitizeModelReply(completion.Choices[0].Message.Content), nil
}

func toMessages(turns []llm.Turn) []sdk.ChatCompletionMessageParamUnion {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case llm.RoleSystem:
			messages = append(messages, sdk.SystemMessage(turn.PlainText()))
		case llm.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(turn.PlainText()))
		default:
			if !turn.IsMultipart() {
				messages = append(messages, sdk.UserMessage(turn.Text))
				continue
			}
			parts := make([]sdk.ChatCompletionContentPartUnionParam, 0, len(turn.Parts))
			for _, part := range turn.Parts {
				switch part.Kind {
				case llm.PartImage:
					parts = append(parts, sdk.ImageContentPart(sdk.ChatCompletionContentPartImageImageURLParam{
						URL: part.ImageURL,
					}))
				default:
					parts = append(parts, sdk.TextContentPart(part.Text))
				}
			}
			messages = append(messages, sdk.UserMessage(parts))
		}
	}
	return messages
}

var (
	thinkBlockPattern = regexp.MustCompile(`(?is)<think\b[^>]*>.*?</think>`)
	thinkFencePattern = regexp.MustCompile("(?is)```think\\s*.*?```")
)

func sanitizeModelReply(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	trimmed = thinkBlockPattern.ReplaceAllString(trimmed, "")
	trimmed = thinkFencePattern.ReplaceAllString(trimmed, "")
	trimmed = strings.ReplaceAll(trimmed, "<think>", "")
	trimmed = strings.ReplaceAll(trimmed, "</think>", "")
	return strings.TrimSpace(trimmed)
}

func requiresAPIKey(baseURL string) bool {
	lower := strings.ToLower(baseURL)
	if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") || strings.Contains(lower, "ollama") {
		return false
	}
	return true
}
