package receiptparser

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

func TestDecodeImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	raw := base64.StdEncoding.EncodeToString(png)

	tests := []struct {
		name     string
		input    string
		wantMIME string
		wantErr  bool
	}{
		{name: "data URL", input: "data:image/webp;base64," + raw, wantMIME: "image/webp"},
		{name: "raw base64 is sniffed", input: raw, wantMIME: "image/png"},
		{name: "unknown bytes default to jpeg", input: base64.StdEncoding.EncodeToString([]byte("hello")), wantMIME: "image/jpeg"},
		{name: "not base64", input: "%%%", wantErr: true},
		{name: "data URL without base64 marker", input: "data:image/png," + raw, wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeImage(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidImage) {
					t.Errorf("DecodeImage() error = %v, want ErrInvalidImage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeImage() error = %v", err)
			}
			if img.MIMEType != tt.wantMIME {
				t.Errorf("MIMEType = %s, want %s", img.MIMEType, tt.wantMIME)
			}
		})
	}
}

func TestDecodeScan(t *testing.T) {
	raw := "```json\n" + `{
		"storeName": "",
		"date": "2024-05-17",
		"items": [
			{"name": "Burger", "price": 12.99, "quantity": 1, "category": "food"},
			{"name": "Coke", "price": 2.99, "quantity": 2, "category": "Drink"},
			{"name": "Napkins", "price": 0},
			{"name": "", "price": 4.00},
			{"name": "Pizza", "price": "18.99"},
			{"name": "Mystery", "price": -1},
			{"name": "Mint", "price": 0.004},
			{"name": "Straws", "price": 0.50, "quantity": 1e30},
			{"name": "Gum", "price": 1.25, "quantity": -3}
		],
		"tax": 3.10,
		"total": null
	}` + "\n```"

	got, err := decodeScan(raw)
	if err != nil {
		t.Fatalf("decodeScan() error = %v", err)
	}

	if got.StoreName != "Unknown Store" {
		t.Errorf("StoreName = %q, want Unknown Store", got.StoreName)
	}
	if got.Date.Format("2006-01-02") != "2024-05-17" {
		t.Errorf("Date = %v", got.Date)
	}
	if !got.Tax.Equal(decimal.RequireFromString("3.10")) || !got.Total.IsZero() {
		t.Errorf("Tax = %s, Total = %s", got.Tax, got.Total)
	}

	want := []struct {
		name     string
		price    string
		qty      int
		category string
	}{
		{"Burger", "12.99", 1, "food"},
		{"Coke", "2.99", 2, "drink"},
		{"Pizza", "18.99", 1, "other"},
		{"Straws", "0.50", 999, "other"},
		{"Gum", "1.25", 1, "other"},
	}
	if len(got.Items) != len(want) {
		t.Fatalf("got %d items, want %d: %+v", len(got.Items), len(want), got.Items)
	}
	for i, w := range want {
		it := got.Items[i]
		if it.Name != w.name || !it.UnitPrice.Equal(decimal.RequireFromString(w.price)) || it.Quantity != w.qty || it.Category != w.category {
			t.Errorf("item %d = %+v, want %+v", i, it, w)
		}
	}
}

func TestDecodeScan_Errors(t *testing.T) {
	for _, raw := range []string{"not json", `{"storeName": "Deli"}`} {
		if _, err := decodeScan(raw); !errors.Is(err, ErrUnreadable) {
			t.Errorf("decodeScan(%q) error = %v, want ErrUnreadable", raw, err)
		}
	}
}

type fakeGenerator struct {
	text    string
	err     error
	gotMIME string
	gotLen  int
}

func (f *fakeGenerator) GenerateContent(_ context.Context, _ string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, part := range contents[0].Parts {
		if part.InlineData != nil {
			f.gotMIME = part.InlineData.MIMEType
			f.gotLen = len(part.InlineData.Data)
		}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}}},
		},
	}, nil
}

func TestGeminiParser(t *testing.T) {
	gen := &fakeGenerator{text: `Here you go: {"storeName": "Deli", "items": [{"name": "Bagel", "price": 3.5}]}`}
	parser := newGeminiParser(gen, "")

	got, err := parser.Parse(context.Background(), Image{Data: []byte("abc"), MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.StoreName != "Deli" || len(got.Items) != 1 || got.Items[0].Quantity != 1 {
		t.Errorf("Parse() = %+v", got)
	}
	if gen.gotMIME != "image/png" || gen.gotLen != 3 {
		t.Errorf("image sent as %s (%d bytes)", gen.gotMIME, gen.gotLen)
	}
	if parser.model != DefaultModel {
		t.Errorf("model = %s, want %s", parser.model, DefaultModel)
	}
}

func TestGeminiParser_Failures(t *testing.T) {
	apiErr := errors.New("quota exceeded")
	if _, err := newGeminiParser(&fakeGenerator{err: apiErr}, "m").Parse(context.Background(), Image{}); !errors.Is(err, apiErr) {
		t.Errorf("expected API error to be wrapped, got %v", err)
	}
	if _, err := newGeminiParser(&fakeGenerator{text: ""}, "m").Parse(context.Background(), Image{}); !errors.Is(err, ErrUnreadable) {
		t.Errorf("expected ErrUnreadable for empty response, got %v", err)
	}
	if _, err := (Disabled{}).Parse(context.Background(), Image{}); !errors.Is(err, ErrParserDisabled) {
		t.Errorf("expected ErrParserDisabled, got %v", err)
	}
}
