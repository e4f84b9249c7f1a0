package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/auth"
	"github.com/caretide/clinic-ops/internal/clinic"
	"github.com/caretide/clinic-ops/internal/notify"
	"github.com/caretide/clinic-ops/internal/payment"
)

var (
	ErrPatientRequired  = errors.New("patient id is required")
	ErrInvalidInterval  = errors.New("requested time interval is invalid")
	ErrNotReschedulable = errors.New("appointment can no longer be rescheduled")
	ErrAccessDenied     = errors.New("caller may not act on this appointment")
)

type BookingConfig struct {
	ConsultationFee int64         // minor units; 0 disables capture
	DefaultSlotLen  time.Duration // used when the request carries no duration
}

// BookingService is the booking engine: it claims a slot, creates the
// appointment and (for telemedicine) the companion session as one
// transaction, then fires the payment and notification collaborators.
type BookingService struct {
	store    Store
	dir      clinic.Directory
	payments payment.Processor
	notifier notify.Notifier
	cfg      BookingConfig
	log      zerolog.Logger
}

func NewBookingService(store Store, dir clinic.Directory, payments payment.Processor, notifier notify.Notifier, cfg BookingConfig, log zerolog.Logger) *BookingService {
	if cfg.DefaultSlotLen <= 0 {
		cfg.DefaultSlotLen = 30 * time.Minute
	}
	return &BookingService{
		store:    store,
		dir:      dir,
		payments: payments,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

type CreateRequest struct {
	PatientID     uuid.UUID // optional when the caller is the patient
	ProviderID    uuid.UUID
	ClinicID      *uuid.UUID
	StartTime     time.Time
	Duration      time.Duration
	Type          Type
	Reason        string
	Specialty     *string
	PaymentMethod string
}

// CreateAppointment books the requested interval. The returned warnings
// describe post-commit collaborator failures (payment, notification); the
// booking itself is durable once this returns without error.
func (s *BookingService) CreateAppointment(ctx context.Context, caller auth.Principal, req CreateRequest) (*Appointment, []string, error) {
	patientID := req.PatientID
	if caller.Role == auth.RolePatient {
		patientID = caller.ID
	}
	if patientID == uuid.Nil {
		return nil, nil, ErrPatientRequired
	}

	if req.StartTime.IsZero() {
		return nil, nil, ErrInvalidInterval
	}
	duration := req.Duration
	if duration <= 0 {
		duration = s.cfg.DefaultSlotLen
	}
	end := req.StartTime.Add(duration)

	if _, err := s.dir.GetPatientByID(ctx, patientID); err != nil {
		return nil, nil, err
	}
	provider, err := s.dir.GetProviderByID(ctx, req.ProviderID)
	if err != nil {
		return nil, nil, err
	}

	clinicID, err := s.resolveClinic(ctx, req, provider)
	if err != nil {
		return nil, nil, err
	}

	appt := &Appointment{
		ID:         uuid.New(),
		PatientID:  patientID,
		ProviderID: provider.ID,
		ClinicID:   clinicID,
		Status:     StatusBooked,
		Type:       req.Type,
		Reason:     req.Reason,
		Specialty:  req.Specialty,
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		slot, err := tx.FindFreeSlotCovering(ctx, provider.ID, req.StartTime, end)
		if err != nil {
			if !errors.Is(err, ErrSlotNotFound) {
				return fmt.Errorf("search slot: %w", err)
			}
			// No free slot. If a claimed one overlaps the interval the
			// window is taken; creating a second slot on top of it would
			// double-book the provider.
			claimed, err := tx.HasClaimedOverlap(ctx, provider.ID, req.StartTime, end)
			if err != nil {
				return fmt.Errorf("check claimed overlap: %w", err)
			}
			if claimed {
				return ErrSlotConflict
			}
			slot = &AvailabilitySlot{
				ID:           uuid.New(),
				ProviderID:   provider.ID,
				ProviderKind: provider.Kind,
				ClinicID:     clinicID,
				StartTime:    req.StartTime,
				EndTime:      end,
				IsAvailable:  true,
			}
			if err := tx.InsertSlot(ctx, slot); err != nil {
				return fmt.Errorf("create slot: %w", err)
			}
		}

		appt.SlotID = slot.ID
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		// The claim is the race arbiter: zero rows affected means another
		// booking committed first and the whole transaction unwinds.
		if err := tx.ClaimSlot(ctx, slot.ID); err != nil {
			return err
		}

		if appt.Type == TypeTelemedicine {
			session := &TelemedicineSession{
				ID:            appt.ID,
				AppointmentID: appt.ID,
				PatientID:     appt.PatientID,
				Status:        SessionScheduled,
			}
			if provider.Kind == auth.RoleDoctor {
				session.DoctorID = &provider.ID
			}
			if err := tx.UpsertSession(ctx, session); err != nil {
				return fmt.Errorf("create telemedicine session: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	warnings := s.afterBooking(ctx, appt, req.PaymentMethod)
	return appt, warnings, nil
}

func (s *BookingService) resolveClinic(ctx context.Context, req CreateRequest, provider *clinic.Provider) (*uuid.UUID, error) {
	if req.Type == TypeTelemedicine {
		return nil, nil
	}
	if req.ClinicID != nil {
		if _, err := s.dir.GetClinicByID(ctx, *req.ClinicID); err != nil {
			return nil, err
		}
		return req.ClinicID, nil
	}
	id, err := s.dir.ResolveClinicForProvider(ctx, provider.ID)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// afterBooking runs the post-commit collaborators. Failures are logged and
// surfaced as warnings, never as errors.
func (s *BookingService) afterBooking(ctx context.Context, appt *Appointment, method string) []string {
	var warnings []string

	if s.cfg.ConsultationFee > 0 {
		err := s.payments.ProcessAppointmentPayment(ctx, payment.CaptureRequest{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			ProviderID:    appt.ProviderID,
			Type:          string(appt.Type),
			Method:        method,
			AmountCents:   s.cfg.ConsultationFee,
		})
		if err != nil {
			s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("payment capture failed after booking")
			warnings = append(warnings, "payment capture failed; appointment is booked, billing will retry")
		}
	}

	for _, userID := range []uuid.UUID{appt.PatientID, appt.ProviderID} {
		err := s.notifier.Notify(ctx, notify.Message{
			UserID:   userID,
			Body:     "Appointment booked",
			Channel:  notify.ChannelInApp,
			Priority: notify.PriorityNormal,
			RefID:    appt.ID,
		})
		if err != nil {
			s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("booking notification failed")
			warnings = append(warnings, "notification dispatch failed")
		}
	}
	return warnings
}

// Reschedule moves an appointment to a new start time. A brand-new slot is
// created already unavailable (no reuse search), the appointment is
// repointed to it and the old slot is released, all in one transaction.
func (s *BookingService) Reschedule(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID, newStart time.Time) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, ErrInvalidInterval
	}

	var updated *Appointment
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !callerOwns(caller, appt) {
			return ErrAccessDenied
		}
		if !appt.Status.HoldsSlot() {
			return ErrNotReschedulable
		}

		oldSlot, err := tx.GetSlotByID(ctx, appt.SlotID)
		if err != nil {
			return fmt.Errorf("load current slot: %w", err)
		}
		duration := oldSlot.EndTime.Sub(oldSlot.StartTime)
		if duration <= 0 {
			duration = s.cfg.DefaultSlotLen
		}

		newSlot := &AvailabilitySlot{
			ID:           uuid.New(),
			ProviderID:   oldSlot.ProviderID,
			ProviderKind: oldSlot.ProviderKind,
			ClinicID:     oldSlot.ClinicID,
			StartTime:    newStart,
			EndTime:      newStart.Add(duration),
			IsAvailable:  false,
		}
		if err := tx.InsertSlot(ctx, newSlot); err != nil {
			return fmt.Errorf("create replacement slot: %w", err)
		}

		appt.SlotID = newSlot.ID
		appt.Status = StatusBooked
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("repoint appointment: %w", err)
		}

		if err := tx.ReleaseSlot(ctx, oldSlot.ID); err != nil {
			return fmt.Errorf("release old slot: %w", err)
		}

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Notify(ctx, notify.Message{
		UserID:   updated.PatientID,
		Body:     "Appointment rescheduled",
		Channel:  notify.ChannelInApp,
		Priority: notify.PriorityNormal,
		RefID:    updated.ID,
	}); err != nil {
		s.log.Warn().Err(err).Stringer("appointment_id", updated.ID).Msg("reschedule notification failed")
	}

	return updated, nil
}

// CreateOpenSlot lets a provider publish an available slot ahead of time.
func (s *BookingService) CreateOpenSlot(ctx context.Context, caller auth.Principal, start time.Time, duration time.Duration) (*AvailabilitySlot, error) {
	if !caller.Role.Provider() {
		return nil, ErrAccessDenied
	}
	if start.IsZero() {
		return nil, ErrInvalidInterval
	}
	if duration <= 0 {
		duration = s.cfg.DefaultSlotLen
	}

	provider, err := s.dir.GetProviderByID(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	slot := &AvailabilitySlot{
		ID:           uuid.New(),
		ProviderID:   provider.ID,
		ProviderKind: provider.Kind,
		ClinicID:     provider.ClinicID,
		StartTime:    start,
		EndTime:      start.Add(duration),
		IsAvailable:  true,
	}
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertSlot(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// callerOwns reports whether the principal is a party to the appointment or
// a platform role.
func callerOwns(caller auth.Principal, appt *Appointment) bool {
	if caller.Role.Platform() {
		return true
	}
	if caller.Role == auth.RolePatient {
		return appt.PatientID == caller.ID
	}
	if caller.Role.Provider() {
		return appt.ProviderID == caller.ID
	}
	return false
}
