package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllm "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	"github.com/mozilla-ai/any-llm-go/providers/openai"
)

const systemPrompt = `You classify voice assistant utterances.
Reply with a single JSON object, nothing else:
{"intent": "<question|command|small-talk|stop>", "confidence": <0.0-1.0>}`

// LLM is an any-llm-go backed detector. It works with every provider the
// library supports; the model decides the intent through a constrained JSON
// reply.
type LLM struct {
	backend anyllm.Provider
	model   string
}

// Ensure LLM implements Detector at compile time.
var _ Detector = (*LLM)(nil)

// NewLLM creates a detector backed by the named provider. providerName is
// one of: "openai", "anthropic", "ollama", "mistral", "groq". Without an
// API key option, the backend reads its usual environment variable.
func NewLLM(providerName, model string, opts ...anyllm.Option) (*LLM, error) {
	if model == "" {
		return nil, fmt.Errorf("intent: model must not be empty")
	}

	var (
		backend anyllm.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = openai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	case "mistral":
		backend, err = mistral.New(opts...)
	case "groq":
		backend, err = groq.New(opts...)
	default:
		return nil, fmt.Errorf("intent: unsupported provider %q; supported: openai, anthropic, ollama, mistral, groq", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("intent: create %q backend: %w", providerName, err)
	}

	return &LLM{backend: backend, model: model}, nil
}

// Detect asks the model to classify text.
func (l *LLM) Detect(ctx context.Context, text string) (Intent, error) {
	if strings.TrimSpace(text) == "" {
		return Intent{Name: Unknown}, nil
	}

	temp := 0.0
	resp, err := l.backend.Completion(ctx, anyllm.CompletionParams{
		Model:       l.model,
		Temperature: &temp,
		Messages: []anyllm.Message{
			{Role: anyllm.RoleSystem, Content: systemPrompt},
			{Role: anyllm.RoleUser, Content: text},
		},
	})
	if err != nil {
		return Intent{}, fmt.Errorf("intent: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Intent{}, fmt.Errorf("intent: empty choices in response")
	}

	return parseReply(resp.Choices[0].Message.ContentString())
}

// parseReply extracts the JSON object from the model reply; models
// occasionally wrap it in code fences or prose.
func parseReply(reply string) (Intent, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return Intent{}, fmt.Errorf("intent: no JSON object in reply %q", reply)
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &parsed); err != nil {
		return Intent{}, fmt.Errorf("intent: parse reply: %w", err)
	}

	switch parsed.Intent {
	case Question, Command, SmallTalk, Stop:
	default:
		return Intent{}, fmt.Errorf("intent: model returned unknown intent %q", parsed.Intent)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return Intent{}, fmt.Errorf("intent: confidence %v out of range", parsed.Confidence)
	}
	return Intent{Name: parsed.Intent, Confidence: parsed.Confidence}, nil
}
