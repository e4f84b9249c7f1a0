// Package payment is the billing collaborator consumed by the booking and
// lifecycle engines. Every call is best-effort: callers log failures and
// attach them as warnings, they never roll back a committed booking.
package payment

import (
	"context"

	"github.com/google/uuid"
)

type CaptureRequest struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	ProviderID    uuid.UUID
	Type          string // in-person | telemedicine
	Method        string // card, insurance, ...
	AmountCents   int64
}

type CompletionRequest struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	ProviderID    uuid.UUID
	Type          string
}

type RefundRequest struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	Reason        string
}

type Processor interface {
	ProcessAppointmentPayment(ctx context.Context, req CaptureRequest) error
	ProcessCompletionPayment(ctx context.Context, req CompletionRequest) error
	ProcessRefund(ctx context.Context, req RefundRequest) error
}

// Noop satisfies Processor when no billing backend is configured.
type Noop struct{}

func (Noop) ProcessAppointmentPayment(context.Context, CaptureRequest) error  { return nil }
func (Noop) ProcessCompletionPayment(context.Context, CompletionRequest) error { return nil }
func (Noop) ProcessRefund(context.Context, RefundRequest) error               { return nil }
