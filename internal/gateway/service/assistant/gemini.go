package assistant

import (
	"context"
	"errors"
	"log"
	"strings"

	genai "google.golang.org/genai"
)

func logf(format string, args ...any) {
	log.Printf("assistant: "+format, args...)
}

// Gemini streams replies from the Gemini API.
type Gemini struct {
	cli   *genai.Client
	model string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{cli: cli, model: model}, nil
}

func (g *Gemini) Name() string { return "Gemini:" + g.model }

func contents(history []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		role := genai.RoleUser
		if t.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(text, role))
	}
	return out
}

func (g *Gemini) Stream(ctx context.Context, history []Turn, onToken func(string) error) (Reply, error) {
	turns := contents(history)
	if len(turns) == 0 {
		return Reply{}, Permanent(errors.New("gemini: nothing to answer"))
	}
	var (
		b      strings.Builder
		tokens int
	)
	for resp, err := range g.cli.Models.GenerateContentStream(ctx, g.model, turns, nil) {
		if err != nil {
			return Reply{Text: b.String(), Tokens: tokens}, err
		}
		if resp.UsageMetadata != nil {
			tokens = int(resp.UsageMetadata.TotalTokenCount)
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		if err := onToken(chunk); err != nil {
			return Reply{Text: b.String(), Tokens: tokens}, err
		}
		b.WriteString(chunk)
	}
	return Reply{Text: b.String(), Tokens: tokens}, nil
}
