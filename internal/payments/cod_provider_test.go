package payments

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCODProviderCreateIntent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	provider := NewCODProvider(CODProviderConfig{
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01HX0000000000000000000000" },
	})

	intent, err := provider.CreateIntent(ctx, IntentRequest{Amount: 118000, Currency: "inr"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if !strings.HasPrefix(intent.IntentID, "cod_") {
		t.Fatalf("expected cod_ prefixed intent id, got %q", intent.IntentID)
	}
	if intent.Currency != "INR" {
		t.Fatalf("expected currency uppercased, got %q", intent.Currency)
	}
	if !intent.CreatedAt.Equal(now) {
		t.Fatalf("expected created at %v, got %v", now, intent.CreatedAt)
	}
}

func TestCODProviderVerifyAlwaysSucceeds(t *testing.T) {
	ctx := context.Background()
	provider := NewCODProvider(CODProviderConfig{})

	details, err := provider.VerifyPayment(ctx, VerifyRequest{IntentID: "cod_abc", PaymentID: "manual"})
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	if !details.Captured || details.Status != StatusCaptured {
		t.Fatalf("expected captured, got %+v", details)
	}
}

func TestCODProviderRejectsPaymentLinks(t *testing.T) {
	ctx := context.Background()
	provider := NewCODProvider(CODProviderConfig{})

	if _, err := provider.CreatePaymentLink(ctx, PaymentLinkRequest{Amount: 100}); err == nil {
		t.Fatal("expected payment link creation to fail")
	}
}
