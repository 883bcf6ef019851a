// Package nlu asks the language model to interpret free-form chat into
// structured intents. Everything that comes back is treated as
// untrusted input and revalidated by the intent package.
package nlu

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/tidwall/sjson"

	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/intent"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/match"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/timeutil"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/logger"
)

// Client wraps the chat-completions API for intent extraction.
type Client struct {
	api   openai.Client
	model string
}

func NewClient(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		api:   openai.NewClient(opts...),
		model: model,
	}
}

// ParseSingle interprets one message as a single intent.
func (c *Client) ParseSingle(ctx context.Context, text string, snapshot match.Snapshot, tz string, now time.Time) (intent.Interpretation, error) {
	body, err := c.complete(ctx, singlePrompt(snapshot, tz, now), text)
	if err != nil {
		return intent.Interpretation{}, err
	}
	return intent.FromJSON(body, text), nil
}

// ParseBatch interprets one message as an ordered list of intents.
func (c *Client) ParseBatch(ctx context.Context, text string, snapshot match.Snapshot, tz string, now time.Time) ([]intent.Interpretation, error) {
	body, err := c.complete(ctx, batchPrompt(snapshot, tz, now), text)
	if err != nil {
		return nil, err
	}
	items := intent.BatchFromJSON(body, text)
	if items == nil {
		// A malformed batch degrades to one unparsed item rather than
		// an error: the resolver turns it into a clarification.
		items = []intent.Interpretation{intent.FromJSON(body, text)}
	}
	return items, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	body := strings.TrimSpace(resp.Choices[0].Message.Content)
	logger.Info("nlu response model=%s bytes=%d", c.model, len(body))
	return body, nil
}

// tasksJSON renders the user's active tasks for the prompt. The model
// only ever sees id, text and due date.
func tasksJSON(snapshot match.Snapshot) string {
	out := "[]"
	for _, t := range snapshot.Tasks {
		obj := "{}"
		obj, _ = sjson.Set(obj, "id", t.ID)
		obj, _ = sjson.Set(obj, "text", t.Text)
		if t.DueAt != "" {
			obj, _ = sjson.Set(obj, "due_at", t.DueAt)
		}
		out, _ = sjson.SetRaw(out, "-1", obj)
	}
	return out
}

func promptHeader(snapshot match.Snapshot, tz string, now time.Time) string {
	loc := timeutil.LoadLocation(tz)
	var b strings.Builder
	b.WriteString("Ты — разборщик команд персонального менеджера задач.\n")
	fmt.Fprintf(&b, "Сейчас %s (часовой пояс пользователя: %s).\n", now.In(loc).Format("2006-01-02 15:04, Monday"), tz)
	b.WriteString("Активные задачи пользователя:\n")
	b.WriteString(tasksJSON(snapshot))
	b.WriteString("\n\n")
	b.WriteString(`Поле action принимает одно из значений: create, reschedule, add_deadline, clear_deadline, complete, delete, rename, show_active, show_today, show_tomorrow, show_date, needs_clarification, unknown.
Поля объекта намерения:
- "action": строка из списка выше;
- "title": название задачи (для create — текст новой задачи, для rename — новое название);
- "deadline_iso": срок в формате ISO 8601 в часовом поясе пользователя, либо null, если срок не назван;
- "target_task_hint": дословный фрагмент, которым пользователь назвал существующую задачу, либо null;
- "note": краткое пояснение, либо null;
- "language": язык сообщения пользователя ("ru" или "en").
Не выдумывай срок, если пользователь его не называл. Не выбирай задачу за пользователя: hint — это его слова, а не твоя догадка по списку.`)
	return b.String()
}

func singlePrompt(snapshot match.Snapshot, tz string, now time.Time) string {
	return promptHeader(snapshot, tz, now) +
		"\n\nОтветь одним JSON-объектом намерения без пояснений и без markdown."
}

func batchPrompt(snapshot match.Snapshot, tz string, now time.Time) string {
	return promptHeader(snapshot, tz, now) +
		"\n\nСообщение содержит несколько намерений. Ответь JSON-объектом вида {\"items\": [...]}, где items — массив объектов намерений в порядке появления в сообщении."
}
