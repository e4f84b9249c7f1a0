package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/caretide/clinic-ops/internal/appointment"
)

type createAppointmentRequest struct {
	PatientID       string `json:"patient_id" validate:"omitempty,uuid"`
	ProviderID      string `json:"provider_id" validate:"required,uuid"`
	ClinicID        string `json:"clinic_id" validate:"omitempty,uuid"`
	StartTime       string `json:"start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,gt=0,lte=480"`
	Type            string `json:"type" validate:"required,oneof=in-person telemedicine"`
	Reason          string `json:"reason" validate:"max=2000"`
	Specialty       string `json:"specialty" validate:"omitempty,max=200"`
	PaymentMethod   string `json:"payment_method" validate:"omitempty,oneof=card insurance cash"`
}

type updateStatusRequest struct {
	Status      string `json:"status" validate:"required"`
	Notes       string `json:"notes" validate:"omitempty,max=10000"`
	Reason      string `json:"reason" validate:"omitempty,max=2000"`
	ErrorReason string `json:"error_reason" validate:"omitempty,max=2000"`
	CheckIn     string `json:"check_in" validate:"omitempty"`
	CheckOut    string `json:"check_out" validate:"omitempty"`
}

type rescheduleRequest struct {
	StartTime string `json:"start_time" validate:"required"`
}

type createSlotRequest struct {
	StartTime       string `json:"start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,gt=0,lte=480"`
}

type endSessionRequest struct {
	Summary string `json:"summary" validate:"omitempty,max=10000"`
}

type appointmentResponse struct {
	ID           uuid.UUID        `json:"id"`
	PatientID    uuid.UUID        `json:"patient_id"`
	ProviderID   uuid.UUID        `json:"provider_id"`
	ClinicID     *uuid.UUID       `json:"clinic_id,omitempty"`
	SlotID       uuid.UUID        `json:"slot_id"`
	Status       string           `json:"status"`
	Type         string           `json:"type"`
	Reason       string           `json:"reason,omitempty"`
	Specialty    *string          `json:"specialty,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	CheckedInAt  *time.Time       `json:"checked_in_at,omitempty"`
	CheckedOutAt *time.Time       `json:"checked_out_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Slot         *slotResponse    `json:"slot,omitempty"`
	Session      *sessionResponse `json:"session,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
}

type slotResponse struct {
	ID          uuid.UUID  `json:"id"`
	ProviderID  uuid.UUID  `json:"provider_id"`
	ClinicID    *uuid.UUID `json:"clinic_id,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	IsAvailable bool       `json:"is_available"`
}

type sessionResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Status        string     `json:"status"`
	SessionURL    string     `json:"session_url,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Warnings      []string   `json:"warnings,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment, warnings []string) appointmentResponse {
	return appointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		ProviderID:   a.ProviderID,
		ClinicID:     a.ClinicID,
		SlotID:       a.SlotID,
		Status:       string(a.Status),
		Type:         string(a.Type),
		Reason:       a.Reason,
		Specialty:    a.Specialty,
		Notes:        a.Notes,
		CheckedInAt:  a.CheckedInAt,
		CheckedOutAt: a.CheckedOutAt,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Warnings:     warnings,
	}
}

func toDetailResponse(d *appointment.Detail) appointmentResponse {
	resp := toAppointmentResponse(&d.Appointment, nil)
	if d.Slot != nil {
		s := toSlotResponse(d.Slot)
		resp.Slot = &s
	}
	if d.Session != nil {
		sess := toSessionResponse(d.Session, nil)
		resp.Session = &sess
	}
	return resp
}

func toSlotResponse(s *appointment.AvailabilitySlot) slotResponse {
	return slotResponse{
		ID:          s.ID,
		ProviderID:  s.ProviderID,
		ClinicID:    s.ClinicID,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		IsAvailable: s.IsAvailable,
	}
}

func toSessionResponse(s *appointment.TelemedicineSession, warnings []string) sessionResponse {
	return sessionResponse{
		ID:            s.ID,
		AppointmentID: s.AppointmentID,
		Status:        string(s.Status),
		SessionURL:    s.SessionURL,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		Summary:       s.Summary,
		Warnings:      warnings,
	}
}
