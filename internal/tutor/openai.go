package tutor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/blocklab/blocklab/internal/session"
)

const systemPrompt = `You are a coding tutor for a visual block programming environment.
You are given the current session as JSON: the serialized workspace, the
dialogue so far, the tutorial state and your own context from earlier turns.
Answer the user's latest message in the session's language.

Respond with a single JSON object and nothing else:
{"response": "<your answer>", "blockId": "<id of a block to highlight, or empty>",
 "blockName": "<name of a block type to suggest, or empty>", "progress": <tutorial progress 0-100>}`

// OpenAIClient implements Collaborator against any OpenAI-compatible API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a tutor client for the given provider.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	return &OpenAIClient{client: &client, model: model}
}

// snapshot is the subset of the record sent to the model. Client ids and
// timestamps carry no tutoring signal.
type snapshot struct {
	Workspace    json.RawMessage    `json:"workspace,omitempty"`
	Dialogue     []session.Dialogue `json:"dialogue"`
	Language     string             `json:"language"`
	Tutorial     session.Tutorial   `json:"tutorial"`
	TutorContext json.RawMessage    `json:"tutorContext,omitempty"`
}

func (c *OpenAIClient) Reply(ctx context.Context, rec *session.Record) (*Reply, error) {
	snap, err := json.Marshal(snapshot{
		Workspace:    rec.Workspace,
		Dialogue:     rec.Dialogue,
		Language:     rec.Language,
		Tutorial:     rec.Tutorial,
		TutorContext: rec.TutorContext,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling session snapshot: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(string(snap)),
		},
	}

	var completion *openai.ChatCompletion
	for attempt := range 3 {
		completion, err = c.client.Chat.Completions.New(ctx, params)
		if err == nil {
			break
		}
		if !strings.Contains(err.Error(), "429") || attempt == 2 {
			return nil, fmt.Errorf("tutor completion: %w", err)
		}
		wait := time.Duration(2<<attempt) * time.Second // 2s, 4s
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, fmt.Errorf("tutor completion: %w", ctx.Err())
		}
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	return parseReply(completion.Choices[0].Message.Content)
}

// parseReply extracts the structured reply from the model output, tolerating
// a fenced code block around the JSON.
func parseReply(content string) (*Reply, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var reply Reply
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil {
		// A model that ignored the format still produced an answer; keep it.
		return &Reply{Response: content}, nil
	}
	return &reply, nil
}
