package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrClinicNotFound    = errors.New("clinic not found")
	ErrProviderNotFound  = errors.New("provider not found")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrNoClinicAvailable = errors.New("no clinic available for this provider")
)

// Directory is the clinic/provider/patient lookup collaborator consumed by
// the booking engine. It is read-only from the engine's point of view.
type Directory interface {
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// ResolveClinicForProvider picks the clinic an in-person appointment
	// should be attached to when the caller names none: the provider's own
	// clinic if it has one, otherwise any active clinic. Returns
	// ErrNoClinicAvailable when neither exists; an appointment is never
	// silently attached to an inactive clinic.
	ResolveClinicForProvider(ctx context.Context, providerID uuid.UUID) (uuid.UUID, error)
}
