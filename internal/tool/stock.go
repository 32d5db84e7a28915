package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shelfwatch/shelfwatch/internal/backend/openai"
	"github.com/shelfwatch/shelfwatch/internal/domain"
)

// QueryStockName is the declared name of the stock lookup tool.
const QueryStockName = "query_stock"

// StockReader is the read-only store surface the stock tool needs.
type StockReader interface {
	StockInfo(ctx context.Context, name string) (*domain.ProductStockInfo, error)
}

// StockTool looks up live stock for a product by exact name match.
// Matching is case-sensitive; typos or casing differences yield a
// not-found result.
type StockTool struct {
	store StockReader
}

// NewStockTool creates the query_stock tool over the given store.
func NewStockTool(store StockReader) *StockTool {
	return &StockTool{store: store}
}

// Name implements Tool.
func (t *StockTool) Name() string {
	return QueryStockName
}

// Definition implements Tool.
func (t *StockTool) Definition() openai.Tool {
	return openai.Tool{
		Type: "function",
		Function: openai.FunctionTool{
			Name:        QueryStockName,
			Description: "Query product stock levels and details from the inventory store.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_name": map[string]any{
						"type":        "string",
						"description": "Name of the product to check.",
					},
				},
				"required": []string{"product_name"},
			},
		},
	}
}

type stockArguments struct {
	ProductName string `json:"product_name"`
}

// Invoke implements Tool. It performs a single fresh read against the
// inventory store and returns the stock snapshot as JSON.
func (t *StockTool) Invoke(ctx context.Context, arguments string) (string, error) {
	var args stockArguments
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", domain.ErrMalformedModelResponse(
			fmt.Sprintf("query_stock arguments are not valid JSON: %v", err))
	}
	if args.ProductName == "" {
		return "", domain.ErrMalformedModelResponse("query_stock requires a product_name argument")
	}

	info, err := t.store.StockInfo(ctx, args.ProductName)
	if err != nil {
		if domain.IsKind(err, domain.ErrKindNotFound) {
			return "", err
		}
		return "", domain.ErrStoreUnavailable(err)
	}

	payload, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stock info: %w", err)
	}
	return string(payload), nil
}
