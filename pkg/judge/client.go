package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"
)

// ChatClient is a single-turn chat call against a judge model. The judge
// never needs conversation state, streaming, or tool use.
type ChatClient interface {
	Chat(ctx context.Context, system, user string, maxTokens int) (string, error)
	Model() string
}

// Options selects and configures the judge backend. Model uses a prefixed
// spec: "openai:<model>" and "anthropic:<model>" go to the respective
// APIs, anything else is treated as a local OpenAI-compatible server
// (llama.cpp, vLLM) at BaseURL.
type Options struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
}

const defaultLocalBaseURL = "http://localhost:8080"

// localChatTimeout bounds a local completion. Generous because a judge
// prompt carries the full retrieved context.
const localChatTimeout = 2 * time.Minute

// NewChatClient builds the chat client for a model spec. API keys fall
// back to OPENAI_API_KEY / ANTHROPIC_API_KEY when not passed explicitly.
func NewChatClient(opts Options) (ChatClient, error) {
	switch {
	case strings.HasPrefix(opts.Model, "openai:"):
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openai judge %q requires an API key", opts.Model)
		}
		return &openaiClient{
			client:      openai.NewClient(openaioption.WithAPIKey(key)),
			spec:        opts.Model,
			model:       strings.TrimPrefix(opts.Model, "openai:"),
			temperature: opts.Temperature,
		}, nil

	case strings.HasPrefix(opts.Model, "anthropic:"):
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic judge %q requires an API key", opts.Model)
		}
		return &anthropicClient{
			client:      anthropic.NewClient(anthropicoption.WithAPIKey(key)),
			spec:        opts.Model,
			model:       strings.TrimPrefix(opts.Model, "anthropic:"),
			temperature: opts.Temperature,
		}, nil

	default:
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = defaultLocalBaseURL
		}
		return &localClient{
			httpClient:  &http.Client{Timeout: localChatTimeout},
			baseURL:     strings.TrimRight(baseURL, "/"),
			model:       opts.Model,
			apiKey:      opts.APIKey,
			temperature: opts.Temperature,
		}, nil
	}
}

type openaiClient struct {
	client      openai.Client
	spec        string
	model       string
	temperature float64
}

func (c *openaiClient) Model() string { return c.spec }

func (c *openaiClient) Chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(c.temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai judge request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai judge returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type anthropicClient struct {
	client      anthropic.Client
	spec        string
	model       string
	temperature float64
}

// anthropicDefaultMaxTokens applies when the caller sets no cap; the
// Anthropic API requires an explicit max_tokens.
const anthropicDefaultMaxTokens = 4096

func (c *anthropicClient) Model() string { return c.spec }

func (c *anthropicClient) Chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(c.temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic judge request: %w", err)
	}
	if len(msg.Content) == 0 {
		return "", fmt.Errorf("anthropic judge returned no content")
	}
	return msg.Content[0].Text, nil
}

type localClient struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	apiKey      string
	temperature float64
}

type localChatRequest struct {
	Model       string             `json:"model"`
	Messages    []localChatMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatResponse struct {
	Choices []struct {
		Message localChatMessage `json:"message"`
	} `json:"choices"`
}

func (c *localClient) Model() string { return c.model }

func (c *localClient) Chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	req := localChatRequest{
		Model: c.model,
		Messages: []localChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: maxTokens,
	}
	// Some llama.cpp builds reject an explicit temperature of zero;
	// omitting it gets the server default, which is what zero means here.
	if c.temperature > 0 {
		req.Temperature = &c.temperature
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal judge request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("local judge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("local judge: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var chatResp localChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode judge response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("local judge returned no choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}
