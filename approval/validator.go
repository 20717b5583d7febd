package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
)

// Validator checks a trigger and turns its purchase data into a Purchase.
type Validator interface {
	Validate(ctx context.Context, req TriggerRequest) (Purchase, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, req TriggerRequest) (Purchase, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, req TriggerRequest) (Purchase, error) {
	return f(ctx, req)
}

// PurchaseValidator requires a positive finite amount and a non-empty item.
type PurchaseValidator struct{}

var _ Validator = PurchaseValidator{}

// Validate implements Validator. An empty Type is treated as RequestType.
func (PurchaseValidator) Validate(_ context.Context, req TriggerRequest) (Purchase, error) {
	if req.Type != "" && req.Type != RequestType {
		return Purchase{}, signoff.NewValidationError("type", fmt.Sprintf("expected %q, got %q", RequestType, req.Type))
	}
	if req.PurchaseData == nil {
		return Purchase{}, signoff.NewValidationError("purchaseData", "must be an object")
	}

	amount, ok := number(req.PurchaseData["amount"])
	if !ok || math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return Purchase{}, signoff.NewValidationError("purchaseData.amount", "must be a positive finite number")
	}

	item, ok := req.PurchaseData["item"].(string)
	if !ok || strings.TrimSpace(item) == "" {
		return Purchase{}, signoff.NewValidationError("purchaseData.item", "must be a non-empty string")
	}

	return Purchase{
		ID:     id.NewPurchaseID(),
		Amount: amount,
		Item:   item,
	}, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
