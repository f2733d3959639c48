package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey          string
	Model           string
	SystemPrompt    string
	MaxOutputTokens int
}

// Gemini streams completions from the Gemini API through the genai SDK.
// Gemini delivers function calls whole, so each call is relayed as a single
// argument fragment.
type Gemini struct {
	client          *genai.Client
	model           string
	systemPrompt    string
	maxOutputTokens int32
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider: gemini: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider: gemini: model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: gemini: create client: %w", err)
	}
	return &Gemini{
		client:          client,
		model:           cfg.Model,
		systemPrompt:    cfg.SystemPrompt,
		maxOutputTokens: int32(cfg.MaxOutputTokens),
	}, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// StreamCompletion opens a GenerateContentStream call for the given turns.
func (g *Gemini) StreamCompletion(ctx context.Context, turns []Turn, tools []ToolSchema) (Stream, error) {
	contents, system := geminiContents(g.systemPrompt, turns)
	if len(contents) == 0 {
		return nil, &Error{Provider: g.Name(), Err: errors.New("no input turns")}
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: g.maxOutputTokens,
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(tools)}}
	}

	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, g.model, contents, config))
	return &geminiStream{next: next, stop: stop}, nil
}

// geminiContents maps turns to genai contents. System turns are folded into
// the system instruction after the configured prompt.
func geminiContents(systemPrompt string, turns []Turn) ([]*genai.Content, string) {
	var system []string
	if systemPrompt != "" {
		system = append(system, systemPrompt)
	}
	var contents []*genai.Content
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			if t.Text != "" {
				system = append(system, t.Text)
			}
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(t.Text, genai.RoleUser))
		case RoleModel:
			var parts []*genai.Part
			if t.Text != "" {
				parts = append(parts, genai.NewPartFromText(t.Text))
			}
			for _, c := range t.Calls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   c.ID,
					Name: c.Name,
					Args: objectOf(c.Arguments, "raw"),
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})
			}
		case RoleTool:
			parts := make([]*genai.Part, 0, len(t.Results))
			for _, r := range t.Results {
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       r.ID,
					Name:     r.Name,
					Response: objectOf(r.Response, "output"),
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: parts})
			}
		}
	}
	return contents, strings.Join(system, "\n\n")
}

// objectOf decodes raw into a JSON object. Anything that is not an object is
// wrapped under key.
func objectOf(raw json.RawMessage, key string) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return obj
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return map[string]any{key: v}
	}
	return map[string]any{key: string(raw)}
}

func geminiDeclarations(tools []ToolSchema) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		d := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if t.Parameters != nil {
			d.ParametersJsonSchema = t.Parameters
		}
		decls = append(decls, d)
	}
	return decls
}

// geminiStream converts streamed GenerateContentResponse chunks into Events.
type geminiStream struct {
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	queue []Event
	text  strings.Builder
	usage Usage
	done  bool
}

func (s *geminiStream) Recv() (Event, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.done {
			return Event{}, io.EOF
		}
		resp, err, ok := s.next()
		if !ok {
			s.flushText()
			usage := s.usage
			s.queue = append(s.queue, Event{Type: EventTurnDone, Usage: &usage})
			s.done = true
			continue
		}
		if err != nil {
			s.done = true
			s.stop()
			return Event{}, geminiError(err)
		}
		s.translate(resp)
	}
}

func (s *geminiStream) translate(resp *genai.GenerateContentResponse) {
	if resp == nil {
		return
	}
	if u := resp.UsageMetadata; u != nil {
		s.usage.InputTokens = int(u.PromptTokenCount)
		s.usage.OutputTokens = int(u.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			s.text.WriteString(part.Text)
			s.queue = append(s.queue, Event{Type: EventTextDelta, Text: part.Text})
		}
		if fc := part.FunctionCall; fc != nil {
			// Text preceding a call is complete once the call starts.
			s.flushText()
			id := fc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			args := []byte("{}")
			if len(fc.Args) > 0 {
				if b, err := json.Marshal(fc.Args); err == nil {
					args = b
				}
			}
			s.queue = append(s.queue,
				Event{Type: EventToolCallStart, CallID: id, ToolName: fc.Name},
				Event{Type: EventToolCallDelta, CallID: id, ToolName: fc.Name, Fragment: string(args)},
				Event{Type: EventToolCallDone, CallID: id, ToolName: fc.Name},
			)
		}
	}
}

func (s *geminiStream) flushText() {
	if s.text.Len() == 0 {
		return
	}
	s.queue = append(s.queue, Event{Type: EventTextDone, Text: s.text.String()})
	s.text.Reset()
}

func (s *geminiStream) Close() error {
	s.done = true
	s.stop()
	return nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: "gemini", Status: apiErr.Code, Err: err}
	}
	return &Error{Provider: "gemini", Err: err}
}
