package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"listingbot/internal/models"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

const defaultPrompt = `You read real-estate listings and return their facts as one JSON object.
Use exactly these keys and null when a value is not stated:
{"latitude": number, "longitude": number, "price": number, "currency": "ISO 4217 code",
 "rooms": integer, "area_sqm": number, "floor": integer,
 "deal_type": "rent" | "sale" | "daily", "address": string, "amenities": [string]}
Do not guess coordinates. Only fill latitude/longitude when the text, the provided
location or a lookup result states them. Reply with the JSON object only.`

// loadPrompt reads an operator supplied system prompt.
func loadPrompt(ctx context.Context, path string) (string, error) {
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return "", fmt.Errorf("init prompt parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      extParser,
	})
	if err != nil {
		return "", fmt.Errorf("init prompt loader: %w", err)
	}
	docs, err := loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load prompt %s: %w", path, err)
	}
	var b strings.Builder
	for _, doc := range docs {
		if content := strings.TrimSpace(doc.Content); content != "" {
			b.WriteString(content)
			b.WriteString("\n")
		}
	}
	prompt := strings.TrimSpace(b.String())
	if prompt == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return prompt, nil
}

func buildUserPrompt(text string, hint *models.Location) string {
	var b strings.Builder
	b.WriteString("Listing text:\n")
	b.WriteString(strings.TrimSpace(text))
	if hint != nil {
		if c := hint.Coordinates; c != nil {
			b.WriteString("\n\nLocation provided by the user: ")
			b.WriteString(strconv.FormatFloat(c.Latitude, 'f', 6, 64))
			b.WriteString(", ")
			b.WriteString(strconv.FormatFloat(c.Longitude, 'f', 6, 64))
		}
		if hint.MapLink != "" {
			b.WriteString("\n\nMap link provided by the user: ")
			b.WriteString(hint.MapLink)
		}
	}
	return b.String()
}
