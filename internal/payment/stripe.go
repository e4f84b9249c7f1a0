package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"
)

// StripeProcessor captures appointment fees as Stripe payment intents.
// The appointment-to-intent mapping is held in memory only; the billing
// service owns the durable record via webhook reconciliation.
type StripeProcessor struct {
	mu      sync.Mutex
	intents map[uuid.UUID]string
}

func NewStripeProcessor(apiKey string) *StripeProcessor {
	stripe.Key = apiKey
	return &StripeProcessor{intents: make(map[uuid.UUID]string)}
}

func (p *StripeProcessor) ProcessAppointmentPayment(ctx context.Context, req CaptureRequest) error {
	if req.AmountCents <= 0 {
		return nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
	}
	params.Context = ctx
	params.AddMetadata("appointment_id", req.AppointmentID.String())
	params.AddMetadata("patient_id", req.PatientID.String())
	params.AddMetadata("provider_id", req.ProviderID.String())
	params.AddMetadata("appointment_type", req.Type)
	if req.Method != "" {
		params.AddMetadata("method", req.Method)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return fmt.Errorf("create payment intent: %w", err)
	}

	p.mu.Lock()
	p.intents[req.AppointmentID] = intent.ID
	p.mu.Unlock()
	return nil
}

func (p *StripeProcessor) ProcessCompletionPayment(ctx context.Context, req CompletionRequest) error {
	p.mu.Lock()
	id, ok := p.intents[req.AppointmentID]
	p.mu.Unlock()
	if !ok {
		// Nothing was captured at booking time, nothing to settle.
		return nil
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if _, err := paymentintent.Capture(id, params); err != nil {
		return fmt.Errorf("capture payment intent %s: %w", id, err)
	}
	return nil
}

func (p *StripeProcessor) ProcessRefund(ctx context.Context, req RefundRequest) error {
	p.mu.Lock()
	id, ok := p.intents[req.AppointmentID]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(id),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.AddMetadata("appointment_id", req.AppointmentID.String())
	params.AddMetadata("refund_reason", req.Reason)

	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("create refund for intent %s: %w", id, err)
	}

	p.mu.Lock()
	delete(p.intents, req.AppointmentID)
	p.mu.Unlock()
	return nil
}
