// Package receiptparser extracts line items from receipt photos.
package receiptparser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidrmellors/receipt-splitter/internal/models"
)

const (
	unknownStore       = "Unknown Store"
	defaultImageFormat = "image/jpeg"
	maxQuantity        = 999
)

var (
	ErrInvalidImage   = errors.New("invalid receipt image")
	ErrUnreadable     = errors.New("failed to parse receipt data")
	ErrParserDisabled = errors.New("receipt parsing is not configured")
)

// Image is a decoded receipt photo.
type Image struct {
	Data     []byte
	MIMEType string
}

// ParsedReceipt is what a scan produced. Items have no IDs yet.
type ParsedReceipt struct {
	StoreName string
	Date      time.Time
	Items     []models.Item
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
}

// Parser turns a receipt image into structured data.
type Parser interface {
	Parse(ctx context.Context, img Image) (*ParsedReceipt, error)
}

// DecodeImage accepts raw base64 or a data URL such as
// "data:image/png;base64,...". The MIME type is sniffed when the input
// does not carry one.
func DecodeImage(encoded string) (Image, error) {
	encoded = strings.TrimSpace(encoded)
	mimeType := ""
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return Image{}, fmt.Errorf("%w: malformed data URL", ErrInvalidImage)
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		encoded = payload
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = defaultImageFormat
	}
	return Image{Data: data, MIMEType: mimeType}, nil
}

// scanResult mirrors the JSON document the model is asked to produce.
type scanResult struct {
	StoreName string              `json:"storeName"`
	Date      string              `json:"date"`
	Items     []scanItem          `json:"items"`
	Subtotal  decimal.NullDecimal `json:"subtotal"`
	Tax       decimal.NullDecimal `json:"tax"`
	Total     decimal.NullDecimal `json:"total"`
}

type scanItem struct {
	Name     string              `json:"name"`
	Price    decimal.NullDecimal `json:"price"`
	Quantity float64             `json:"quantity"`
	Category string              `json:"category"`
}

// decodeScan parses model output into a ParsedReceipt.
// Items without a name or a price of at least a cent are dropped. Quantity
// defaults to 1, is capped at maxQuantity, and category defaults to "other".
func decodeScan(raw string) (*ParsedReceipt, error) {
	var scan scanResult
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &scan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if scan.Items == nil {
		return nil, fmt.Errorf("%w: missing items array", ErrUnreadable)
	}

	out := &ParsedReceipt{
		StoreName: strings.TrimSpace(scan.StoreName),
		Subtotal:  scan.Subtotal.Decimal,
		Tax:       scan.Tax.Decimal,
		Total:     scan.Total.Decimal,
	}
	if out.StoreName == "" {
		out.StoreName = unknownStore
	}
	if d, err := time.Parse("2006-01-02", strings.TrimSpace(scan.Date)); err == nil {
		out.Date = d
	}

	for _, it := range scan.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" || !it.Price.Valid {
			continue
		}
		price := it.Price.Decimal.Round(2)
		if !price.IsPositive() {
			continue
		}
		qty := 1
		if it.Quantity >= 1 {
			qty = int(math.Round(math.Min(it.Quantity, maxQuantity)))
		}
		category := strings.ToLower(strings.TrimSpace(it.Category))
		switch category {
		case "food", "drink":
		default:
			category = "other"
		}
		out.Items = append(out.Items, models.Item{
			Name:      name,
			UnitPrice: price,
			Quantity:  qty,
			Category:  category,
		})
	}
	return out, nil
}

// cleanModelJSON strips Markdown fences and any text around the outermost object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

// Disabled is used when no model credentials are configured.
type Disabled struct{}

func (Disabled) Parse(context.Context, Image) (*ParsedReceipt, error) {
	return nil, ErrParserDisabled
}
