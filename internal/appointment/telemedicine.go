package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/auth"
	"github.com/caretide/clinic-ops/internal/notify"
	"github.com/caretide/clinic-ops/internal/payment"
)

var (
	ErrNotTelemedicine  = errors.New("appointment is not a telemedicine appointment")
	ErrSessionNotActive = errors.New("telemedicine session is not in progress")
	ErrSessionClosed    = errors.New("telemedicine session has already ended")
)

// TelemedicineService drives the start/join/end sub-flow of a telemedicine
// appointment's session.
type TelemedicineService struct {
	store    Store
	payments payment.Processor
	notifier notify.Notifier
	meetBase string
	log      zerolog.Logger
	now      func() time.Time
}

func NewTelemedicineService(store Store, payments payment.Processor, notifier notify.Notifier, meetBase string, log zerolog.Logger) *TelemedicineService {
	if meetBase == "" {
		meetBase = "https://meet.caretide.health"
	}
	return &TelemedicineService{
		store:    store,
		payments: payments,
		notifier: notifier,
		meetBase: meetBase,
		log:      log,
		now:      time.Now,
	}
}

// Start begins the session: it mints the meeting reference and moves both
// session and appointment to in-progress in one transaction. Provider-only.
func (s *TelemedicineService) Start(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID) (*TelemedicineSession, error) {
	var (
		session *TelemedicineSession
		started bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, sess, err := s.loadForUpdate(ctx, tx, caller, appointmentID, true)
		if err != nil {
			return err
		}

		switch sess.Status {
		case SessionCompleted, SessionCancelled:
			return ErrSessionClosed
		case SessionInProgress:
			// Provider re-entering an already running session keeps the
			// existing meeting reference.
			session = sess
			return nil
		}

		startedAt := s.now()
		sess.Status = SessionInProgress
		sess.SessionURL = fmt.Sprintf("%s/%s", s.meetBase, uuid.New())
		sess.StartedAt = &startedAt
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		appt.Status = StatusInProgress
		appt.CheckedInAt = &startedAt
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		if err := tx.HoldSlot(ctx, appt.SlotID); err != nil {
			return fmt.Errorf("hold slot: %w", err)
		}

		session = sess
		started = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Re-entry changed nothing, so the patient is not pinged again.
	if !started {
		return session, nil
	}

	if err := s.notifier.Notify(ctx, notify.Message{
		UserID:   session.PatientID,
		Body:     "Your telemedicine session has started",
		Channel:  notify.ChannelSMS,
		Priority: notify.PriorityHigh,
		RefID:    session.AppointmentID,
	}); err != nil {
		s.log.Warn().Err(err).Stringer("appointment_id", session.AppointmentID).Msg("session-start notification failed")
	}

	return session, nil
}

// Join exposes the meeting reference to either party while the session is
// running. It is a read, not a mutation.
func (s *TelemedicineService) Join(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID) (*TelemedicineSession, error) {
	appt, err := s.store.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !callerOwns(caller, appt) {
		return nil, ErrAccessDenied
	}
	if appt.Type != TypeTelemedicine {
		return nil, ErrNotTelemedicine
	}

	session, err := s.store.GetSessionByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionInProgress {
		return nil, ErrSessionNotActive
	}
	return session, nil
}

// End closes the session and completes the appointment in one transaction,
// then triggers the completion payment. A payment failure is reported as a
// warning, never blocks closure. Provider-only.
func (s *TelemedicineService) End(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID, summary string) (*TelemedicineSession, []string, error) {
	var (
		session *TelemedicineSession
		appt    *Appointment
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		a, sess, err := s.loadForUpdate(ctx, tx, caller, appointmentID, true)
		if err != nil {
			return err
		}
		if sess.Status != SessionInProgress {
			return ErrSessionNotActive
		}

		endedAt := s.now()
		sess.Status = SessionCompleted
		sess.EndedAt = &endedAt
		sess.Summary = summary
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		a.Status = StatusCompleted
		a.CheckedOutAt = &endedAt
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		if err := tx.ReleaseSlot(ctx, a.SlotID); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		session = sess
		appt = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	payErr := s.payments.ProcessCompletionPayment(ctx, payment.CompletionRequest{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		ProviderID:    appt.ProviderID,
		Type:          string(appt.Type),
	})
	if payErr != nil {
		s.log.Warn().Err(payErr).Stringer("appointment_id", appt.ID).Msg("completion payment failed after session end")
		warnings = append(warnings, "completion payment failed; session is closed, billing will retry")
	}

	return session, warnings, nil
}

// loadForUpdate row-locks the appointment and its session, enforcing the
// telemedicine type and (when providerOnly) the provider-side ownership.
func (s *TelemedicineService) loadForUpdate(ctx context.Context, tx Tx, caller auth.Principal, appointmentID uuid.UUID, providerOnly bool) (*Appointment, *TelemedicineSession, error) {
	appt, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
	if err != nil {
		return nil, nil, err
	}
	if providerOnly && !caller.Role.Platform() {
		if !caller.Role.Provider() || appt.ProviderID != caller.ID {
			return nil, nil, ErrAccessDenied
		}
	} else if !callerOwns(caller, appt) {
		return nil, nil, ErrAccessDenied
	}
	if appt.Type != TypeTelemedicine {
		return nil, nil, ErrNotTelemedicine
	}

	sess, err := tx.GetSessionForUpdate(ctx, appointmentID)
	if err != nil {
		return nil, nil, err
	}
	return appt, sess, nil
}
