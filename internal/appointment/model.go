package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretide/clinic-ops/internal/auth"
)

type Status string

const (
	StatusBooked      Status = "booked"
	StatusInProgress  Status = "in-progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no-show"
	StatusMissed      Status = "missed"
	StatusLate        Status = "late"
	StatusRescheduled Status = "rescheduled"
	StatusError       Status = "error"
)

type Type string

const (
	TypeInPerson     Type = "in-person"
	TypeTelemedicine Type = "telemedicine"
)

type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in-progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// slotEffect is what a status transition does to the owning slot.
type slotEffect int

const (
	slotKeep slotEffect = iota // no change
	slotHold                   // force is_available = false
	slotFree                   // is_available = true
)

// transitions is the set of statuses UpdateStatus accepts, with the slot
// side effect each one carries. booked is initial-only; rescheduled is
// produced by the reschedule operation, never set directly.
var transitions = map[Status]slotEffect{
	StatusInProgress: slotHold,
	StatusCompleted:  slotFree,
	StatusCancelled:  slotFree,
	StatusNoShow:     slotFree,
	StatusMissed:     slotFree,
	StatusError:      slotFree,
	StatusLate:       slotKeep,
}

// HoldsSlot reports whether an appointment in this status owns its slot
// (slot must read is_available = false).
func (s Status) HoldsSlot() bool {
	return s == StatusBooked || s == StatusInProgress || s == StatusLate
}

type AvailabilitySlot struct {
	ID           uuid.UUID
	ProviderID   uuid.UUID
	ProviderKind auth.Role // doctor, nurse or lab
	ClinicID     *uuid.UUID
	StartTime    time.Time
	EndTime      time.Time
	IsAvailable  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	ProviderID   uuid.UUID
	ClinicID     *uuid.UUID
	SlotID       uuid.UUID
	Status       Status
	Type         Type
	Reason       string
	Specialty    *string
	Notes        string
	CheckedInAt  *time.Time
	CheckedOutAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TelemedicineSession is the 1:1 companion of a telemedicine appointment.
// Its ID mirrors the appointment ID.
type TelemedicineSession struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      *uuid.UUID
	Status        SessionStatus
	SessionURL    string
	StartedAt     *time.Time
	EndedAt       *time.Time
	Summary       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Detail is an appointment hydrated with its slot and, for telemedicine,
// its session.
type Detail struct {
	Appointment
	Slot    *AvailabilitySlot
	Session *TelemedicineSession
}
