package appointment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caretide/clinic-ops/internal/auth"
)

type telemedFixture struct {
	store    *memStore
	payments *fakePayments
	notifier *fakeNotifier
	svc      *TelemedicineService

	patientID uuid.UUID
	doctorID  uuid.UUID
	appt      Appointment
	slot      AvailabilitySlot
}

func newTelemedFixture(t *testing.T) *telemedFixture {
	t.Helper()

	f := &telemedFixture{
		store:     newMemStore(),
		payments:  &fakePayments{},
		notifier:  &fakeNotifier{},
		patientID: uuid.New(),
		doctorID:  uuid.New(),
	}

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	f.slot = AvailabilitySlot{
		ID:           uuid.New(),
		ProviderID:   f.doctorID,
		ProviderKind: auth.RoleDoctor,
		StartTime:    start,
		EndTime:      start.Add(30 * time.Minute),
		IsAvailable:  false,
	}
	f.appt = Appointment{
		ID:         uuid.New(),
		PatientID:  f.patientID,
		ProviderID: f.doctorID,
		SlotID:     f.slot.ID,
		Status:     StatusBooked,
		Type:       TypeTelemedicine,
	}
	doctorID := f.doctorID
	session := TelemedicineSession{
		ID:            f.appt.ID,
		AppointmentID: f.appt.ID,
		PatientID:     f.patientID,
		DoctorID:      &doctorID,
		Status:        SessionScheduled,
	}
	f.store.putSlot(f.slot)
	f.store.putAppointment(f.appt)
	f.store.putSession(session)

	f.svc = NewTelemedicineService(f.store, f.payments, f.notifier, "https://meet.example.test", zerolog.Nop())
	return f
}

func (f *telemedFixture) doctor() auth.Principal {
	return auth.Principal{ID: f.doctorID, Role: auth.RoleDoctor}
}

func (f *telemedFixture) patient() auth.Principal {
	return auth.Principal{ID: f.patientID, Role: auth.RolePatient}
}

func TestSessionStart(t *testing.T) {
	f := newTelemedFixture(t)

	sess, err := f.svc.Start(context.Background(), f.doctor(), f.appt.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Status != SessionInProgress {
		t.Fatalf("session status = %s, want %s", sess.Status, SessionInProgress)
	}
	if !strings.HasPrefix(sess.SessionURL, "https://meet.example.test/") {
		t.Fatalf("session url = %q, want meeting-base prefix", sess.SessionURL)
	}
	if sess.StartedAt == nil {
		t.Fatal("started-at not recorded")
	}

	appt, _ := f.store.GetAppointmentByID(context.Background(), f.appt.ID)
	if appt.Status != StatusInProgress {
		t.Fatalf("appointment status = %s, want %s", appt.Status, StatusInProgress)
	}
	if appt.CheckedInAt == nil {
		t.Fatal("check-in time not recorded")
	}
	slot, _ := f.store.slot(f.slot.ID)
	if slot.IsAvailable {
		t.Fatal("slot must stay held while the session runs")
	}
	if len(f.notifier.msgs) != 1 || f.notifier.msgs[0].UserID != f.patientID {
		t.Fatal("patient should be notified that the session started")
	}
}

func TestSessionStartReentryKeepsURL(t *testing.T) {
	f := newTelemedFixture(t)

	first, err := f.svc.Start(context.Background(), f.doctor(), f.appt.ID)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := f.svc.Start(context.Background(), f.doctor(), f.appt.ID)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if second.SessionURL != first.SessionURL {
		t.Fatalf("re-entry minted a new url: %q vs %q", second.SessionURL, first.SessionURL)
	}
	if len(f.notifier.msgs) != 1 {
		t.Fatalf("notification count = %d, want 1: re-entry must not ping the patient again", len(f.notifier.msgs))
	}
}

func TestSessionStartGuards(t *testing.T) {
	f := newTelemedFixture(t)

	if _, err := f.svc.Start(context.Background(), f.patient(), f.appt.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("patient start err = %v, want ErrAccessDenied", err)
	}

	otherDoctor := auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor}
	if _, err := f.svc.Start(context.Background(), otherDoctor, f.appt.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("other doctor start err = %v, want ErrAccessDenied", err)
	}

	inPerson := f.appt
	inPerson.Type = TypeInPerson
	f.store.putAppointment(inPerson)
	if _, err := f.svc.Start(context.Background(), f.doctor(), f.appt.ID); !errors.Is(err, ErrNotTelemedicine) {
		t.Fatalf("in-person start err = %v, want ErrNotTelemedicine", err)
	}
}

func TestSessionStartAfterClose(t *testing.T) {
	f := newTelemedFixture(t)

	if _, err := f.svc.Start(context.Background(), f.doctor(), f.appt.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, _, err := f.svc.End(context.Background(), f.doctor(), f.appt.ID, "resolved"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := f.svc.Start(context.Background(), f.doctor(), f.appt.ID); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("restart err = %v, want ErrSessionClosed", err)
	}
}

func TestSessionJoin(t *testing.T) {
	f := newTelemedFixture(t)

	if _, err := f.svc.Join(context.Background(), f.patient(), f.appt.ID); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("join before start err = %v, want ErrSessionNotActive", err)
	}

	started, err := f.svc.Start(context.Background(), f.doctor(), f.appt.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	joined, err := f.svc.Join(context.Background(), f.patient(), f.appt.ID)
	if err != nil {
		t.Fatalf("patient Join: %v", err)
	}
	if joined.SessionURL != started.SessionURL {
		t.Fatal("join must expose the running session's url")
	}

	stranger := auth.Principal{ID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.svc.Join(context.Background(), stranger, f.appt.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("stranger join err = %v, want ErrAccessDenied", err)
	}
}

func TestSessionEnd(t *testing.T) {
	f := newTelemedFixture(t)

	if _, err := f.svc.Start(context.Background(), f.doctor(), f.appt.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess, warnings, err := f.svc.End(context.Background(), f.doctor(), f.appt.ID, "prescribed rest and fluids")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if sess.Status != SessionCompleted || sess.EndedAt == nil {
		t.Fatalf("session not closed: status=%s endedAt=%v", sess.Status, sess.EndedAt)
	}
	if sess.Summary != "prescribed rest and fluids" {
		t.Fatalf("summary = %q", sess.Summary)
	}

	appt, _ := f.store.GetAppointmentByID(context.Background(), f.appt.ID)
	if appt.Status != StatusCompleted || appt.CheckedOutAt == nil {
		t.Fatalf("appointment not completed: status=%s checkedOutAt=%v", appt.Status, appt.CheckedOutAt)
	}
	slot, _ := f.store.slot(f.slot.ID)
	if !slot.IsAvailable {
		t.Fatal("ending the session frees the slot")
	}
	if len(f.payments.completions) != 1 {
		t.Fatalf("completion payment count = %d, want 1", len(f.payments.completions))
	}
}

func TestSessionEndPaymentFailureIsWarning(t *testing.T) {
	f := newTelemedFixture(t)
	f.payments.completionErr = errors.New("gateway timeout")

	if _, err := f.svc.Start(context.Background(), f.doctor(), f.appt.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess, warnings, err := f.svc.End(context.Background(), f.doctor(), f.appt.ID, "")
	if err != nil {
		t.Fatalf("End must survive a payment failure, got %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a payment warning")
	}
	if sess.Status != SessionCompleted {
		t.Fatalf("session status = %s, want %s", sess.Status, SessionCompleted)
	}
}

func TestSessionEndRequiresRunning(t *testing.T) {
	f := newTelemedFixture(t)

	if _, _, err := f.svc.End(context.Background(), f.doctor(), f.appt.ID, ""); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("end before start err = %v, want ErrSessionNotActive", err)
	}
}
