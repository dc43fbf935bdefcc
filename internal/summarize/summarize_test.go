package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/docdistill/internal/cache"
)

type capturingClient struct {
	mu       sync.Mutex
	reqs     []openai.ChatCompletionRequest
	failures int
	content  string
}

func (c *capturingClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	if c.failures > 0 {
		c.failures--
		return openai.ChatCompletionResponse{}, errors.New("backend unavailable")
	}
	content := c.content
	if content == "" {
		content = "a short summary"
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
		}},
	}, nil
}

func (c *capturingClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func (c *capturingClient) lastReq() openai.ChatCompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[len(c.reqs)-1]
}

func TestSummarizeStagePrompts(t *testing.T) {
	cases := []struct {
		stage      Stage
		sysMarker  string
	}{
		{stage: StageNormal, sysMarker: "Summarize the following text"},
		{stage: StageAggressive, sysMarker: "highly optimized summary"},
		{stage: StageExtreme, sysMarker: "EXTREME summarization"},
	}
	for _, tc := range cases {
		t.Run(string(tc.stage), func(t *testing.T) {
			cc := &capturingClient{}
			s := &Summarizer{Client: cc, Model: "test-model"}
			out, err := s.Summarize(context.Background(), "body text", tc.stage)
			if err != nil {
				t.Fatalf("summarize: %v", err)
			}
			if out == "" {
				t.Fatal("expected non-empty summary")
			}
			req := cc.lastReq()
			if len(req.Messages) != 2 {
				t.Fatalf("expected system+user messages, got %d", len(req.Messages))
			}
			if !strings.Contains(req.Messages[0].Content, tc.sysMarker) {
				t.Errorf("system prompt for %s missing %q:\n%s", tc.stage, tc.sysMarker, req.Messages[0].Content)
			}
			if !strings.HasSuffix(req.Messages[1].Content, "body text") {
				t.Errorf("user message must end with the input text, got: %q", req.Messages[1].Content)
			}
			if !strings.Contains(req.Messages[1].Content, "extremely concise summary") {
				t.Errorf("user message missing preamble")
			}
		})
	}
}

func TestSummarizeRequestDefaults(t *testing.T) {
	cc := &capturingClient{}
	s := &Summarizer{Client: cc, Model: "test-model"}
	if _, err := s.Summarize(context.Background(), "text", StageNormal); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	req := cc.lastReq()
	if req.Model != "test-model" {
		t.Errorf("model = %q", req.Model)
	}
	if req.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", req.Temperature)
	}
	if req.MaxTokens != DefaultMaxOutputTokens {
		t.Errorf("max tokens = %d, want %d", req.MaxTokens, DefaultMaxOutputTokens)
	}
}

func TestSummarizeEmptyResponse(t *testing.T) {
	cc := &capturingClient{content: "   "}
	s := &Summarizer{Client: cc, Model: "test-model"}
	_, err := s.Summarize(context.Background(), "text", StageNormal)
	if !errors.Is(err, ErrEmptySummary) {
		t.Fatalf("expected ErrEmptySummary, got %v", err)
	}
}

func TestSummarizeRetriesOnce(t *testing.T) {
	sleepFunc = func(ms int) {}
	defer func() { sleepFunc = nil }()

	cc := &capturingClient{failures: 1}
	s := &Summarizer{Client: cc, Model: "test-model"}
	out, err := s.Summarize(context.Background(), "text", StageNormal)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if out == "" {
		t.Fatal("expected summary after retry")
	}
	if got := cc.calls(); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}

	cc = &capturingClient{failures: 2}
	s = &Summarizer{Client: cc, Model: "test-model"}
	if _, err := s.Summarize(context.Background(), "text", StageNormal); err == nil {
		t.Fatal("expected failure when retry also fails")
	}
	if got := cc.calls(); got != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", got)
	}
}

func TestSummarizeServesFromCache(t *testing.T) {
	cc := &capturingClient{content: "cached summary"}
	s := &Summarizer{
		Client: cc,
		Cache:  &cache.LLMCache{Dir: t.TempDir()},
		Model:  "test-model",
	}
	first, err := s.Summarize(context.Background(), "same input", StageNormal)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := s.Summarize(context.Background(), "same input", StageNormal)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first != second {
		t.Fatalf("cache returned different text: %q vs %q", first, second)
	}
	if got := cc.calls(); got != 1 {
		t.Fatalf("expected 1 backend call, got %d", got)
	}
}

func TestSummarizeCacheDistinguishesStages(t *testing.T) {
	cc := &capturingClient{}
	s := &Summarizer{
		Client: cc,
		Cache:  &cache.LLMCache{Dir: t.TempDir()},
		Model:  "test-model",
	}
	if _, err := s.Summarize(context.Background(), "same input", StageNormal); err != nil {
		t.Fatalf("normal: %v", err)
	}
	if _, err := s.Summarize(context.Background(), "same input", StageAggressive); err != nil {
		t.Fatalf("aggressive: %v", err)
	}
	if got := cc.calls(); got != 2 {
		t.Fatalf("stages must not share cache entries: %d calls", got)
	}
}

func TestSummarizeUnconfigured(t *testing.T) {
	s := &Summarizer{}
	if _, err := s.Summarize(context.Background(), "text", StageNormal); err == nil {
		t.Fatal("expected error without client and model")
	}
	s = &Summarizer{Client: &capturingClient{}}
	if _, err := s.Summarize(context.Background(), "text", StageNormal); err == nil {
		t.Fatal("expected error without model")
	}
}
