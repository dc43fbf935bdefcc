package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/docdistill/internal/cache"
	"github.com/hyperifyio/docdistill/internal/llm"
)

// DefaultMaxOutputTokens caps the model's completion size per call.
const DefaultMaxOutputTokens = 16000

// ErrEmptySummary indicates the model returned no usable summary text.
var ErrEmptySummary = errors.New("empty summary")

// Summarizer turns a block of text plus a compression stage into a shorter
// block of text by calling an OpenAI-compatible chat model. It is the one
// place the pipeline touches the network for generation.
type Summarizer struct {
	Client llm.Client
	Cache  *cache.LLMCache
	Model  string
	// Temperature defaults to 0.3 when zero.
	Temperature float32
	// MaxOutputTokens defaults to DefaultMaxOutputTokens when zero.
	MaxOutputTokens int
	// CacheOnly, when true, serves from cache and fails fast on a miss.
	CacheOnly bool
}

// Summarize requests a stage-appropriate summary of text. Responses are
// cached by model and prompt so re-runs are deterministic and cheap. A failed
// call is retried once after a short pause before the error is returned.
func (s *Summarizer) Summarize(ctx context.Context, text string, stage Stage) (string, error) {
	if s.Client == nil || strings.TrimSpace(s.Model) == "" {
		return "", errors.New("summarizer not configured")
	}
	system := systemPrompt(stage)
	user := userPreamble + text

	if s.Cache != nil {
		key := cache.KeyFrom(s.Model, system+"\n\n"+user)
		if raw, ok, _ := s.Cache.Get(ctx, key); ok {
			var out struct {
				Summary string `json:"summary"`
			}
			if err := json.Unmarshal(raw, &out); err == nil && strings.TrimSpace(out.Summary) != "" {
				return out.Summary, nil
			}
		}
	}
	if s.CacheOnly {
		return "", ErrEmptySummary
	}

	temp := s.Temperature
	if temp == 0 {
		temp = 0.3
	}
	maxTokens := s.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	req := openai.ChatCompletionRequest{
		Model: s.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temp,
		MaxTokens:   maxTokens,
		N:           1,
	}
	resp, err := s.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		if sleeper := sleepFunc; sleeper != nil {
			sleeper(100)
		} else {
			defaultSleep(100)
		}
		resp, err = s.Client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", fmt.Errorf("summarize call (after retry): %w", err)
		}
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptySummary
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptySummary
	}
	if s.Cache != nil {
		payload, _ := json.Marshal(map[string]string{"summary": out})
		_ = s.Cache.Save(ctx, cache.KeyFrom(s.Model, system+"\n\n"+user), payload)
	}
	return out, nil
}

// sleepFunc lets tests inject a deterministic sleep hook measured in
// milliseconds. When nil, defaultSleep is used.
var sleepFunc func(ms int)

func defaultSleep(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
