package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
)

const maxPromptChars = 24000

const systemPrompt = `You extract data from invoices and receipts.
Answer with a single JSON object with exactly these keys:
"vendor_name" (string), "total_amount" (number), "currency" (ISO 4217 code),
"invoice_date" (YYYY-MM-DD), "invoice_number" (string) and
"line_items" (array of objects with "description", "quantity", "unit_price", "amount").
Use null for anything that is not present in the document. Do not guess.`

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Result is one extraction plus the token usage it cost.
type Result struct {
	Fields           models.ExtractedFields
	PromptTokens     int
	CompletionTokens int
}

type Client struct {
	api   *openai.Client
	model string
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing openai api key")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Client{api: openai.NewClientWithConfig(oc), model: model}, nil
}

// Extract pulls the text layer out of a PDF and extracts its fields.
func (c *Client) Extract(ctx context.Context, pdfData []byte) (Result, error) {
	text, err := PDFText(pdfData)
	if err != nil {
		return Result{}, err
	}
	return c.ExtractText(ctx, text)
}

// ExtractText asks the model for the fields found in text.
func (c *Client) ExtractText(ctx context.Context, text string) (Result, error) {
	text = clipText(text, maxPromptChars)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai chat completion: %w", err)
	}

	res := Result{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		return res, errors.New("openai returned no choices")
	}

	fields, err := ParseFields(resp.Choices[0].Message.Content)
	if err != nil {
		return res, err
	}
	res.Fields = fields
	return res, nil
}

// clipText cuts text to at most n bytes without splitting a rune.
func clipText(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}
