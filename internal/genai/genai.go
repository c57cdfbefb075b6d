// Package genai phrases coach messages with the OpenAI chat completions API.
// The reference backend uses it to soften scripted turns; the scripted text is
// always a valid answer on its own.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrNoChoicesReturned is returned when the completion has no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyContent is returned when the first choice carries no text.
	ErrEmptyContent = errors.New("empty completion content")
	// ErrQuotaExceeded marks failures caused by exhausted API billing.
	ErrQuotaExceeded = errors.New("insufficient_quota")
)

// Defaults for the completion request.
const (
	DefaultModel       = string(openai.ChatModelGPT4oMini)
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 160
)

// DefaultSystemPrompt steers the rephrasing when no prompt is configured.
const DefaultSystemPrompt = "You are a warm, concise fitness coach. Rewrite the coach message you are given " +
	"in your own words. Keep its meaning and any question it asks. Use at most two short sentences. " +
	"Never give medical advice."

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completions adapts the SDK service to chatService.
type completions struct {
	svc *openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the Client.
type Opts struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxTokens    int64
	SystemPrompt string
	DebugMode    bool
	StateDir     string
}

// Option configures a Client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(o *Opts) { o.SystemPrompt = p }
}

// WithDebugMode writes every request and response as JSON under stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI chat completions service.
type Client struct {
	chat         chatService
	model        string
	temperature  float64
	maxTokens    int64
	systemPrompt string
	debugMode    bool
	stateDir     string
}

// NewClient creates a Client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		SystemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "base_url_set", cfg.BaseURL != "", "debug", cfg.DebugMode)

	return &Client{
		chat:         completions{svc: &cli.Chat.Completions},
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
		debugMode:    cfg.DebugMode,
		stateDir:     cfg.StateDir,
	}, nil
}

// GeneratePromptWithContext returns the model's answer to a system and user prompt.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}

	resp, err := c.chat.Create(ctx, params)
	c.writeDebugLog("GeneratePromptWithContext", params, resp, err)
	if err != nil {
		if IsQuotaError(err) {
			return "", fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyContent
	}
	return content, nil
}

// Rephrase rewrites a scripted coach message for the user's context.
func (c *Client) Rephrase(ctx context.Context, scripted, intent string, u models.UserState) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Coach message: %s\n", scripted)
	fmt.Fprintf(&b, "Conversation step: %s\n", intent)
	if len(u.Goals) > 0 {
		fmt.Fprintf(&b, "Goals: %s\n", strings.Join(u.Goals, ", "))
	}
	if u.SleepHoursLastNight != nil {
		fmt.Fprintf(&b, "Sleep last night: %.1f hours\n", *u.SleepHoursLastNight)
	}
	if u.StepsToday != nil {
		fmt.Fprintf(&b, "Steps today: %d\n", *u.StepsToday)
	}
	if len(u.Injuries) > 0 {
		fmt.Fprintf(&b, "Injuries: %s\n", strings.Join(u.Injuries, ", "))
	}

	out, err := c.GeneratePromptWithContext(ctx, c.systemPrompt, b.String())
	if err != nil {
		slog.Warn("Client.Rephrase: completion failed", "error", err, "intent", intent)
		return "", err
	}
	return out, nil
}

// IsQuotaError reports whether err is an OpenAI billing failure.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == "insufficient_quota" || apiErr.Type == "insufficient_quota" {
			return true
		}
		return apiErr.StatusCode == http.StatusPaymentRequired
	}
	return strings.Contains(err.Error(), "insufficient_quota")
}

type debugLogEntry struct {
	Timestamp string                         `json:"timestamp"`
	Method    string                         `json:"method"`
	Model     string                         `json:"model"`
	Params    openai.ChatCompletionNewParams `json:"params"`
	Response  *openai.ChatCompletion         `json:"response"`
	Error     string                         `json:"error,omitempty"`
}

// writeDebugLog records one call under stateDir/debug. Failures are logged only.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	entry := debugLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Method:    method,
		Model:     c.model,
		Params:    params,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	} else {
		entry.Response = &resp
	}

	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("Client.writeDebugLog: creating debug dir failed", "error", err, "dir", dir)
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("genai_%s_%d.json", strings.ToLower(method), time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("Client.writeDebugLog: write failed", "error", err)
	}
}
