package tuner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// maxPromptLogs bounds how many log lines are sent to the model.
const maxPromptLogs = 50

const geminiInstruction = `You are a deployment safety advisor. Given system health, host metrics and recent
deployment logs, reply with one JSON object with these fields:
policy ("IMMEDIATE", "DELAYED" or "MANUAL_APPROVAL"), deployDelayInSeconds (number),
reason (string), confidence (number between 0 and 1), suggestedActions (array of strings),
cooldownSeconds (number), maxConcurrentDeploys (number).
When unsure, prefer MANUAL_APPROVAL and a low confidence.`

// GeminiAdvisor asks a Gemini model for a config suggestion. Its output is
// untrusted and must go through SafeParse (AdvisorProvider does this).
type GeminiAdvisor struct {
	client *genai.Client
	model  string
}

// NewGeminiAdvisor creates an advisor backed by the Gemini API.
func NewGeminiAdvisor(ctx context.Context, apiKey, model string) (*GeminiAdvisor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("tuner: gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("tuner: create gemini client: %w", err)
	}
	return &GeminiAdvisor{client: client, model: model}, nil
}

// Advise sends the request as a prompt and returns the model's text reply.
func (g *GeminiAdvisor) Advise(ctx context.Context, req Request) ([]byte, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(geminiInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("tuner: gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("tuner: gemini returned an empty response")
	}
	return []byte(text), nil
}

func buildPrompt(req Request) (string, error) {
	logs := req.Logs
	if len(logs) > maxPromptLogs {
		logs = logs[len(logs)-maxPromptLogs:]
	}
	lines := make([]string, 0, len(logs))
	for _, l := range logs {
		lines = append(lines, l.Text)
	}
	payload := map[string]any{
		"project": req.Project,
		"health":  req.Insight,
		"system":  req.System,
		"logs":    lines,
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("tuner: encode prompt: %w", err)
	}
	return "Current deployment state:\n" + string(b), nil
}
