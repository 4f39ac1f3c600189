package assistant

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAI is a Backend over the Assistants threads API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI returns a backend authenticated with apiKey. An empty baseURL
// keeps the library default.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

func (o *OpenAI) CreateSession(ctx context.Context) (string, error) {
	thread, err := o.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

func (o *OpenAI) AddUserMessage(ctx context.Context, sessionID, text string) error {
	_, err := o.client.Beta.Threads.Messages.New(ctx, sessionID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	return err
}

func (o *OpenAI) StartRun(ctx context.Context, sessionID, assistantID string) (Run, error) {
	run, err := o.client.Beta.Threads.Runs.New(ctx, sessionID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return Run{}, err
	}
	return Run{ID: run.ID, Status: RunStatus(run.Status)}, nil
}

func (o *OpenAI) GetRun(ctx context.Context, sessionID, runID string) (Run, error) {
	run, err := o.client.Beta.Threads.Runs.Get(ctx, sessionID, runID)
	if err != nil {
		return Run{}, err
	}
	return Run{ID: run.ID, Status: RunStatus(run.Status)}, nil
}

func (o *OpenAI) LatestMessage(ctx context.Context, sessionID string) (string, error) {
	page, err := o.client.Beta.Threads.Messages.List(ctx, sessionID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(1),
	})
	if err != nil {
		return "", err
	}
	if len(page.Data) == 0 {
		return "", errors.New("session has no messages")
	}
	for _, block := range page.Data[0].Content {
		if block.Type == "text" {
			return block.Text.Value, nil
		}
	}
	return "", errors.New("latest message has no text content")
}
