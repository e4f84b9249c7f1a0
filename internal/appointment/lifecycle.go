package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/auth"
	"github.com/caretide/clinic-ops/internal/notify"
	"github.com/caretide/clinic-ops/internal/payment"

	"github.com/google/uuid"
)

var (
	ErrInvalidStatus  = errors.New("unknown or unsettable appointment status")
	ErrLateWindow     = errors.New("late can only be set between the configured window after the scheduled start")
	ErrNoShowTooEarly = errors.New("no-show cannot be set before the scheduled start")
)

// patientStatuses is the subset a patient may set on their own appointment.
var patientStatuses = map[Status]bool{
	StatusCancelled: true,
	StatusNoShow:    true,
}

type LifecycleConfig struct {
	LateAfter  time.Duration // earliest point after start a late mark is valid
	LateCutoff time.Duration // latest point after start a late mark is valid
}

// LifecycleService validates and applies status transitions, including the
// slot-availability side effect each status carries.
type LifecycleService struct {
	store    Store
	payments payment.Processor
	notifier notify.Notifier
	cfg      LifecycleConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewLifecycleService(store Store, payments payment.Processor, notifier notify.Notifier, cfg LifecycleConfig, log zerolog.Logger) *LifecycleService {
	if cfg.LateAfter <= 0 {
		cfg.LateAfter = 5 * time.Minute
	}
	if cfg.LateCutoff <= cfg.LateAfter {
		cfg.LateCutoff = 60 * time.Minute
	}
	return &LifecycleService{
		store:    store,
		payments: payments,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// StatusUpdate carries the optional column changes that ride along with a
// transition.
type StatusUpdate struct {
	Notes       *string
	Reason      *string
	ErrorReason string // appended to notes on the error status
	CheckIn     *time.Time
	CheckOut    *time.Time
}

// UpdateStatus applies one lifecycle transition. The status is validated
// before any row is touched; authorization, the timing guards and the slot
// side effect all happen inside one transaction.
func (s *LifecycleService) UpdateStatus(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID, newStatus Status, upd StatusUpdate) (*Appointment, error) {
	effect, ok := transitions[newStatus]
	if !ok {
		return nil, ErrInvalidStatus
	}

	var updated *Appointment
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}

		if err := authorizeTransition(caller, appt, newStatus); err != nil {
			return err
		}

		slot, err := tx.GetSlotByID(ctx, appt.SlotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if err := s.checkTiming(newStatus, slot); err != nil {
			return err
		}

		applyUpdate(appt, newStatus, upd)
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		switch effect {
		case slotHold:
			if err := tx.HoldSlot(ctx, slot.ID); err != nil {
				return fmt.Errorf("hold slot: %w", err)
			}
		case slotFree:
			if err := tx.ReleaseSlot(ctx, slot.ID); err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, updated, upd)
	return updated, nil
}

func authorizeTransition(caller auth.Principal, appt *Appointment, newStatus Status) error {
	if caller.Role.Platform() {
		return nil
	}
	if caller.Role == auth.RolePatient {
		if appt.PatientID != caller.ID || !patientStatuses[newStatus] {
			return ErrAccessDenied
		}
		return nil
	}
	if caller.Role.Provider() {
		if appt.ProviderID != caller.ID {
			return ErrAccessDenied
		}
		return nil
	}
	return ErrAccessDenied
}

func (s *LifecycleService) checkTiming(newStatus Status, slot *AvailabilitySlot) error {
	now := s.now()
	switch newStatus {
	case StatusLate:
		elapsed := now.Sub(slot.StartTime)
		if elapsed < s.cfg.LateAfter || elapsed > s.cfg.LateCutoff {
			return ErrLateWindow
		}
	case StatusNoShow:
		if !now.After(slot.StartTime) {
			return ErrNoShowTooEarly
		}
	}
	return nil
}

func applyUpdate(appt *Appointment, newStatus Status, upd StatusUpdate) {
	appt.Status = newStatus
	if upd.Notes != nil {
		appt.Notes = *upd.Notes
	}
	if upd.Reason != nil {
		appt.Reason = *upd.Reason
	}
	if upd.CheckIn != nil {
		appt.CheckedInAt = upd.CheckIn
	}
	if upd.CheckOut != nil {
		appt.CheckedOutAt = upd.CheckOut
	}
	if newStatus == StatusError {
		reason := upd.ErrorReason
		if reason == "" {
			reason = "unspecified"
		}
		appt.Notes = appendNote(appt.Notes, "error: "+reason)
	}
}

func appendNote(notes, line string) string {
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return notes + "\n" + line
}

// afterTransition runs the post-commit collaborators for the statuses that
// have them. Failures are logged, never propagated.
func (s *LifecycleService) afterTransition(ctx context.Context, appt *Appointment, upd StatusUpdate) {
	if appt.Status == StatusCancelled {
		reason := ""
		if upd.Reason != nil {
			reason = *upd.Reason
		}
		err := s.payments.ProcessRefund(ctx, payment.RefundRequest{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			Reason:        reason,
		})
		if err != nil {
			s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("refund failed after cancellation")
		}
	}

	err := s.notifier.Notify(ctx, notify.Message{
		UserID:   appt.PatientID,
		Body:     fmt.Sprintf("Appointment status changed to %s", appt.Status),
		Channel:  notify.ChannelInApp,
		Priority: notify.PriorityNormal,
		RefID:    appt.ID,
	})
	if err != nil {
		s.log.Warn().Err(err).Stringer("appointment_id", appt.ID).Msg("status notification failed")
	}
}
