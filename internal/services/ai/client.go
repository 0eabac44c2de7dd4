package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aethrix-hub/assistant/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Connection test parameters
const (
	TestTimeout     = 15 * time.Second
	testMaxTokens   = 50
	testTemperature = 0.1
	testReplyRunes  = 100
)

// maxLoggedBody caps how much of an upstream error body is kept
const maxLoggedBody = 4096

// Request is one chat-completion call. Endpoint is the full URL of an
// OpenAI-compatible chat completions route.
type Request struct {
	Endpoint    string
	APIKey      string
	Model       string
	Messages    []models.Message
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Client calls OpenAI-compatible chat completion endpoints. Requests are
// never retried.
type Client struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a client. A nil httpClient uses a client without its own
// timeout; every call is bounded by its Request.Timeout.
func NewClient(httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, logger: logger}
}

// Complete sends req and returns the content of the first choice.
//
// Errors: ErrTimeout when req.Timeout elapses, *UpstreamError for non-2xx
// answers, transport failures and undecodable bodies, ErrEmptyResponse when
// the answer has no content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	doer, err := newEndpointDoer(req.Endpoint, c.httpClient)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}

	cfg := openai.DefaultConfig(req.APIKey)
	cfg.HTTPClient = doer
	client := openai.NewClientWithConfig(cfg)

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.CreateChatCompletion(callCtx, buildRequest(req))
	c.logger.WithFields(logrus.Fields{
		"model":    req.Model,
		"status":   doer.status,
		"duration": time.Since(start),
	}).Debug("Upstream call finished")

	if err != nil {
		return "", c.classify(ctx, callCtx, doer, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// TestConnection sends a fixed probe to endpoint and returns the start of the
// reply, for checking credentials from the admin panel.
func (c *Client) TestConnection(ctx context.Context, endpoint, model, apiKey string) (string, error) {
	reply, err := c.Complete(ctx, Request{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Model:    model,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "You are a helpful assistant."},
			{Role: models.RoleUser, Content: `Hello, this is a test message. Please respond with "Connection successful!"`},
		},
		MaxTokens:   testMaxTokens,
		Temperature: testTemperature,
		Timeout:     TestTimeout,
	})
	if err != nil {
		return "", err
	}

	runes := []rune(reply)
	if len(runes) > testReplyRunes {
		reply = string(runes[:testReplyRunes])
	}
	return reply, nil
}

func (c *Client) classify(parent, callCtx context.Context, doer *endpointDoer, err error) error {
	if parent.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)) {
		return ErrTimeout
	}

	upstream := &UpstreamError{StatusCode: doer.status, Body: doer.body, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		upstream.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		upstream.StatusCode = reqErr.HTTPStatusCode
	}

	c.logger.WithFields(logrus.Fields{
		"status": upstream.StatusCode,
		"body":   upstream.Body,
	}).WithError(err).Debug("Upstream request failed")

	return upstream
}

func buildRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	// reasoning models reject max_tokens and custom temperatures
	if isReasoningModel(req.Model) {
		out.MaxCompletionTokens = req.MaxTokens
	} else {
		out.MaxTokens = req.MaxTokens
		out.Temperature = req.Temperature
	}
	return out
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// endpointDoer sends every request to one configured URL, whatever path the
// openai client built, and keeps the status and body of the answer for error
// reports.
type endpointDoer struct {
	target *url.URL
	client *http.Client

	status int
	body   string
}

func newEndpointDoer(endpoint string, client *http.Client) (*endpointDoer, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint scheme: %q", endpoint)
	}
	return &endpointDoer{target: target, client: client}, nil
}

func (d *endpointDoer) Do(req *http.Request) (*http.Response, error) {
	target := *d.target
	req.URL = &target
	req.Host = target.Host

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	d.status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read upstream response: %w", readErr)
		}
		d.body = truncate(string(data), maxLoggedBody)
		resp.Body = io.NopCloser(bytes.NewReader(data))
	}
	return resp, nil
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
