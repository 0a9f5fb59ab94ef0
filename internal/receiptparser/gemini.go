package receiptparser

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

const scanPrompt = `Analyze this receipt image and extract the following information in JSON format:
{
  "storeName": "store name if visible",
  "date": "date in YYYY-MM-DD format if visible",
  "items": [
    {
      "name": "item name",
      "price": number (price of one unit),
      "quantity": number (if specified, default 1),
      "category": "food/drink/other"
    }
  ],
  "subtotal": number (if visible),
  "tax": number (if visible),
  "total": number (if visible)
}

Guidelines:
- Extract only clearly visible line items with prices
- Ignore duplicate entries, headers, and footers
- Convert all prices to numbers (remove currency symbols)
- If quantity is not specified, assume 1
- Categorize items as food, drink, or other
- Return valid raw JSON only, no code fences and no additional text`

// contentGenerator is the slice of the genai client the parser needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiParser reads receipts with a Gemini vision model.
type GeminiParser struct {
	models contentGenerator
	model  string
}

// NewGeminiParser creates a parser backed by the Gemini API.
func NewGeminiParser(ctx context.Context, apiKey, model string) (*GeminiParser, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiParser(client.Models, model), nil
}

func newGeminiParser(gen contentGenerator, model string) *GeminiParser {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiParser{models: gen, model: model}
}

// Parse sends the image to the model and decodes its answer.
func (p *GeminiParser) Parse(ctx context.Context, img Image) (*ParsedReceipt, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: scanPrompt},
				{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	}

	resp, err := p.models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response from model", ErrUnreadable)
	}

	parsed, err := decodeScan(raw)
	if err != nil {
		slog.Warn("Receipt scan returned unusable JSON", "model", p.model, "error", err)
		return nil, err
	}

	slog.Debug("Receipt scanned", "model", p.model, "store", parsed.StoreName, "items", len(parsed.Items))
	return parsed, nil
}
