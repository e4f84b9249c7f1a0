package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSessionNotFound     = errors.New("telemedicine session not found")

	// ErrSlotConflict means the conditional slot claim affected zero rows:
	// another transaction took the slot first.
	ErrSlotConflict = errors.New("slot is no longer available")
)

// ListFilter narrows appointment listings. Zero-value UUIDs mean "any".
type ListFilter struct {
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	Limit      int
	Offset     int
}

// Tx is the transactional view of the store. Every state-changing engine
// operation runs against exactly one Tx; the whole callback commits or
// rolls back as a unit.
type Tx interface {
	// FindFreeSlotCovering returns an available slot owned by the provider
	// whose interval fully covers [start, end). ErrSlotNotFound when none.
	FindFreeSlotCovering(ctx context.Context, providerID uuid.UUID, start, end time.Time) (*AvailabilitySlot, error)
	// HasClaimedOverlap reports whether any unavailable slot of the
	// provider overlaps [start, end). Used to refuse lazily creating a
	// slot on top of an interval another appointment already holds.
	HasClaimedOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error)
	InsertSlot(ctx context.Context, slot *AvailabilitySlot) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*AvailabilitySlot, error)

	// ClaimSlot flips the slot to unavailable only if it still reads
	// available. Zero rows affected means a racing booking won:
	// ErrSlotConflict.
	ClaimSlot(ctx context.Context, id uuid.UUID) error
	// HoldSlot flips the slot to unavailable unconditionally (re-affirms an
	// existing claim, e.g. on the in-progress transition).
	HoldSlot(ctx context.Context, id uuid.UUID) error
	// ReleaseSlot flips the slot back to available.
	ReleaseSlot(ctx context.Context, id uuid.UUID) error

	InsertAppointment(ctx context.Context, appt *Appointment) error
	// GetAppointmentForUpdate row-locks the appointment for the remainder
	// of the transaction. ErrAppointmentNotFound takes no lock.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointment(ctx context.Context, appt *Appointment) error

	// UpsertSession inserts the companion session row, silently doing
	// nothing if one already exists for the appointment.
	UpsertSession(ctx context.Context, s *TelemedicineSession) error
	GetSessionForUpdate(ctx context.Context, appointmentID uuid.UUID) (*TelemedicineSession, error)
	UpdateSession(ctx context.Context, s *TelemedicineSession) error
}

// Store owns appointment, slot and session persistence.
type Store interface {
	// InTx runs fn inside one transaction. Any error from fn rolls the
	// whole transaction back and is returned unchanged.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error)
	ListDetails(ctx context.Context, filter ListFilter) ([]Detail, error)
	GetSessionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*TelemedicineSession, error)

	// ListSlots returns the provider's slots intersecting [from, to).
	ListSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilitySlot, error)

	// ListStartingBetween returns appointments still holding their slot
	// whose slot start falls in [from, to).
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]Detail, error)
}
