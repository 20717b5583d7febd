package approval_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/id"
)

func TestPurchaseValidator(t *testing.T) {
	tests := []struct {
		name    string
		req     approval.TriggerRequest
		field   string
		amount  float64
		wantErr bool
	}{
		{
			name:   "valid",
			req:    approval.TriggerRequest{Type: "purchase_approval", PurchaseData: map[string]any{"amount": 1200.0, "item": "Laptop"}},
			amount: 1200,
		},
		{
			name:   "empty type defaults",
			req:    approval.TriggerRequest{PurchaseData: map[string]any{"amount": 5, "item": "Pens"}},
			amount: 5,
		},
		{
			name:   "json number",
			req:    approval.TriggerRequest{PurchaseData: map[string]any{"amount": json.Number("99.5"), "item": "Desk"}},
			amount: 99.5,
		},
		{
			name:    "wrong type",
			req:     approval.TriggerRequest{Type: "expense", PurchaseData: map[string]any{"amount": 1.0, "item": "x"}},
			field:   "type",
			wantErr: true,
		},
		{
			name:    "missing data",
			req:     approval.TriggerRequest{Type: "purchase_approval"},
			field:   "purchaseData",
			wantErr: true,
		},
		{
			name:    "zero amount",
			req:     approval.TriggerRequest{PurchaseData: map[string]any{"amount": 0.0, "item": "Laptop"}},
			field:   "purchaseData.amount",
			wantErr: true,
		},
		{
			name:    "negative amount",
			req:     approval.TriggerRequest{PurchaseData: map[string]any{"amount": -3.0, "item": "Laptop"}},
			field:   "purchaseData.amount",
			wantErr: true,
		},
		{
			name:    "NaN amount",
			req:     approval.TriggerRequest{PurchaseData: map[string]any{"amount": math.NaN(), "item": "Laptop"}},
			field:   "purchaseData.amount",
			wantErr: true,
		},
		{
			name:    "infinite amount",
			req:     approval.TriggerRequest{PurchaseData: map[string]any{"amount": math.Inf(1), "item": "Laptop"}},
			field:   "purchaseData.amount",
			wantErr: true,
		},
		{
			name:    "string amount",
			req:     approval.TriggerRequest{PurchaseData: map[string]any{"amount": "1000", "item": "Laptop"}},
			field:   "purchaseData.amount",
			wantErr: true,
		},
		{
			name:    "blank item",
			req:     approval.TriggerRequest{PurchaseData: map[string]any{"amount": 10.0, "item": "   "}},
			field:   "purchaseData.item",
			wantErr: true,
		},
		{
			name:    "missing item",
			req:     approval.TriggerRequest{PurchaseData: map[string]any{"amount": 10.0}},
			field:   "purchaseData.item",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := approval.PurchaseValidator{}.Validate(context.Background(), tt.req)
			if tt.wantErr {
				var verr *signoff.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("got %v, want ValidationError", err)
				}
				if verr.Field != tt.field {
					t.Errorf("field = %q, want %q", verr.Field, tt.field)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if p.Amount != tt.amount {
				t.Errorf("amount = %v, want %v", p.Amount, tt.amount)
			}
			if p.ID.Prefix() != id.PrefixPurchase {
				t.Errorf("id prefix = %q, want %q", p.ID.Prefix(), id.PrefixPurchase)
			}
		})
	}
}

func TestCorrelationKey(t *testing.T) {
	taskID := id.NewTaskID()
	if got, want := approval.CorrelationKey(taskID), "approval:"+taskID.String(); got != want {
		t.Fatalf("CorrelationKey = %q, want %q", got, want)
	}
}
