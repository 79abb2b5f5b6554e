package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/zidwell/backend/internal/models"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidator_Kinds(t *testing.T) {
	v := newTestValidator(t)

	got := v.Kinds()
	sort.Strings(got)
	want := []string{
		models.KindInvoicePayment,
		models.KindP2PTransfer,
		models.KindPurchaseData,
		models.KindPurchaseElectricity,
	}
	if len(got) != len(want) {
		t.Fatalf("kinds: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kinds[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestValidateDestination_Valid(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		kind string
		dest string
	}{
		{models.KindPurchaseData, `{"network":"mtn","phone":"08031234567","plan_code":"mtn-1gb-30d"}`},
		{models.KindPurchaseElectricity, `{"disco":"ikeja-electric","meter_number":"45012345678","meter_type":"prepaid"}`},
		{models.KindP2PTransfer, `{"bank_code":"058","account_number":"0123456789","account_name":"Ada Obi","narration":"rent"}`},
		{models.KindInvoicePayment, `{"invoice_id":"INV-2024-0042"}`},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			if err := v.ValidateDestination(context.Background(), tc.kind, json.RawMessage(tc.dest)); err != nil {
				t.Fatalf("expected valid destination, got: %v", err)
			}
		})
	}
}

func TestValidateDestination_Invalid(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name string
		kind string
		dest string
	}{
		{"missing phone", models.KindPurchaseData, `{"network":"mtn","plan_code":"x"}`},
		{"unknown network", models.KindPurchaseData, `{"network":"vodafone","phone":"08031234567","plan_code":"x"}`},
		{"short meter number", models.KindPurchaseElectricity, `{"disco":"aedc","meter_number":"123","meter_type":"prepaid"}`},
		{"nine digit account", models.KindP2PTransfer, `{"bank_code":"058","account_number":"012345678","account_name":"Ada"}`},
		{"unknown field", models.KindInvoicePayment, `{"invoice_id":"INV-1","amount":"500"}`},
		{"not json", models.KindInvoicePayment, `{invoice`},
		{"empty", models.KindInvoicePayment, ``},
		{"manual adjustment has no destination", models.KindManualAdjustment, `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateDestination(context.Background(), tc.kind, json.RawMessage(tc.dest))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got: %v", err)
			}
		})
	}
}
