package llm

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Message is a minimal chat message passed to the model. Role must be one
// of "system", "user", or "assistant"; anything else is coerced to "user".
type Message struct {
	Role    string
	Content string
}

// replySystemPrompt frames every assistant reply. The model never
// diagnoses; it offers general guidance and asks clarifying questions.
const replySystemPrompt = `You are a helpful clinical assistant.
You must be safe: no diagnosis, provide general guidance, ask clarifying questions.
You should respond differently depending on user input.
If input is vague, ask 1-3 follow-up questions.
Output plain text only.
`

// Client defines the model calls the triage engine needs. Reply accepts
// the redacted conversation history ending with the latest patient
// message. Summarize condenses a triage prompt into bullet lines.
type Client interface {
	Reply(ctx context.Context, history []Message) (string, error)
	Summarize(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient calls the OpenAI API for replies and triage summaries.
type OpenAIClient struct {
	client       *openai.Client
	chatModel    string
	summaryModel string
	timeout      time.Duration
}

// NewOpenAIClient constructs an OpenAI-backed client. summaryModel falls
// back to chatModel when empty; timeout bounds every request.
func NewOpenAIClient(apiKey, chatModel, summaryModel string, timeout time.Duration) *OpenAIClient {
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	if summaryModel == "" {
		summaryModel = chatModel
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OpenAIClient{
		client:       openai.NewClient(apiKey),
		chatModel:    chatModel,
		summaryModel: summaryModel,
		timeout:      timeout,
	}
}

// Reply sends the history to the chat completion API, prefixed with the
// safety system prompt, and returns the assistant's response.
func (c *OpenAIClient) Reply(ctx context.Context, history []Message) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}

	msgs := buildChatMessages(history)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    msgs,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Summarize generates a short triage summary for the prompt.
func (c *OpenAIClient) Summarize(ctx context.Context, prompt string) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.summaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Summarize the following for clinic triage staff:"},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// buildChatMessages converts history to the OpenAI message type with the
// system prompt prepended.
func buildChatMessages(history []Message) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: replySystemPrompt,
	})
	for _, m := range history {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return msgs
}
