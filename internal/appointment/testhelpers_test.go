package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caretide/clinic-ops/internal/clinic"
	"github.com/caretide/clinic-ops/internal/notify"
	"github.com/caretide/clinic-ops/internal/payment"
)

// -- In-memory store --
//
// InTx runs the callback against a deep copy of the state and only swaps it
// in on success, mirroring transactional rollback. afterFindSlot lets a test
// flip a slot's availability between the search and the claim to reproduce
// the lost-race path.

type memState struct {
	slots    map[uuid.UUID]AvailabilitySlot
	appts    map[uuid.UUID]Appointment
	sessions map[uuid.UUID]TelemedicineSession // keyed by appointment id
}

func (s *memState) clone() *memState {
	c := &memState{
		slots:    make(map[uuid.UUID]AvailabilitySlot, len(s.slots)),
		appts:    make(map[uuid.UUID]Appointment, len(s.appts)),
		sessions: make(map[uuid.UUID]TelemedicineSession, len(s.sessions)),
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.appts {
		c.appts[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

type memStore struct {
	mu    sync.Mutex
	state *memState

	afterFindSlot  func(st *memState, found *AvailabilitySlot)
	failInsertAppt error
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		slots:    make(map[uuid.UUID]AvailabilitySlot),
		appts:    make(map[uuid.UUID]Appointment),
		sessions: make(map[uuid.UUID]TelemedicineSession),
	}}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := m.state.clone()
	if err := fn(ctx, &memTx{st: clone, store: m}); err != nil {
		return err
	}
	m.state = clone
	return nil
}

func (m *memStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memStore) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	appt, err := m.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &Detail{Appointment: *appt}
	if slot, ok := m.state.slots[appt.SlotID]; ok {
		d.Slot = &slot
	}
	if sess, ok := m.state.sessions[appt.ID]; ok {
		d.Session = &sess
	}
	return d, nil
}

func (m *memStore) ListDetails(_ context.Context, filter ListFilter) ([]Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Detail
	for _, a := range m.state.appts {
		if filter.PatientID != uuid.Nil && a.PatientID != filter.PatientID {
			continue
		}
		if filter.ProviderID != uuid.Nil && a.ProviderID != filter.ProviderID {
			continue
		}
		result = append(result, Detail{Appointment: a})
	}
	return result, nil
}

func (m *memStore) GetSessionByAppointment(_ context.Context, appointmentID uuid.UUID) (*TelemedicineSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.sessions[appointmentID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *memStore) ListSlots(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []AvailabilitySlot
	for _, s := range m.state.slots {
		if s.ProviderID == providerID && s.StartTime.Before(to) && s.EndTime.After(from) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *memStore) ListStartingBetween(ctx context.Context, from, to time.Time) ([]Detail, error) {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0)
	for _, a := range m.state.appts {
		slot, ok := m.state.slots[a.SlotID]
		if !ok || !a.Status.HoldsSlot() || a.Status == StatusInProgress {
			continue
		}
		if !slot.StartTime.Before(from) && slot.StartTime.Before(to) {
			ids = append(ids, a.ID)
		}
	}
	m.mu.Unlock()

	var result []Detail
	for _, id := range ids {
		d, err := m.GetDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, nil
}

// slot returns the committed copy of a slot, for assertions.
func (m *memStore) slot(id uuid.UUID) (AvailabilitySlot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.slots[id]
	return s, ok
}

func (m *memStore) countSlots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.slots)
}

func (m *memStore) countAppointments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.appts)
}

func (m *memStore) countSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.sessions)
}

func (m *memStore) putSlot(s AvailabilitySlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.slots[s.ID] = s
}

func (m *memStore) putAppointment(a Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.appts[a.ID] = a
}

func (m *memStore) putSession(s TelemedicineSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sessions[s.AppointmentID] = s
}

type memTx struct {
	st    *memState
	store *memStore
}

func (t *memTx) FindFreeSlotCovering(_ context.Context, providerID uuid.UUID, start, end time.Time) (*AvailabilitySlot, error) {
	var best *AvailabilitySlot
	for id := range t.st.slots {
		s := t.st.slots[id]
		if s.ProviderID != providerID || !s.IsAvailable {
			continue
		}
		if s.StartTime.After(start) || s.EndTime.Before(end) {
			continue
		}
		if best == nil || s.StartTime.Before(best.StartTime) {
			copied := s
			best = &copied
		}
	}
	if best == nil {
		return nil, ErrSlotNotFound
	}
	if t.store.afterFindSlot != nil {
		t.store.afterFindSlot(t.st, best)
	}
	return best, nil
}

func (t *memTx) HasClaimedOverlap(_ context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	for _, s := range t.st.slots {
		if s.ProviderID == providerID && !s.IsAvailable && s.StartTime.Before(end) && s.EndTime.After(start) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertSlot(_ context.Context, slot *AvailabilitySlot) error {
	slot.CreatedAt = time.Now()
	slot.UpdatedAt = slot.CreatedAt
	t.st.slots[slot.ID] = *slot
	return nil
}

func (t *memTx) GetSlotByID(_ context.Context, id uuid.UUID) (*AvailabilitySlot, error) {
	s, ok := t.st.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (t *memTx) ClaimSlot(_ context.Context, id uuid.UUID) error {
	s, ok := t.st.slots[id]
	if !ok || !s.IsAvailable {
		return ErrSlotConflict
	}
	s.IsAvailable = false
	t.st.slots[id] = s
	return nil
}

func (t *memTx) HoldSlot(_ context.Context, id uuid.UUID) error {
	s, ok := t.st.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.IsAvailable = false
	t.st.slots[id] = s
	return nil
}

func (t *memTx) ReleaseSlot(_ context.Context, id uuid.UUID) error {
	s, ok := t.st.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.IsAvailable = true
	t.st.slots[id] = s
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt *Appointment) error {
	if t.store.failInsertAppt != nil {
		return t.store.failInsertAppt
	}
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	t.st.appts[appt.ID] = *appt
	return nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.st.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) UpdateAppointment(_ context.Context, appt *Appointment) error {
	if _, ok := t.st.appts[appt.ID]; !ok {
		return ErrAppointmentNotFound
	}
	appt.UpdatedAt = time.Now()
	t.st.appts[appt.ID] = *appt
	return nil
}

func (t *memTx) UpsertSession(_ context.Context, s *TelemedicineSession) error {
	if _, ok := t.st.sessions[s.AppointmentID]; ok {
		return nil
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	t.st.sessions[s.AppointmentID] = *s
	return nil
}

func (t *memTx) GetSessionForUpdate(_ context.Context, appointmentID uuid.UUID) (*TelemedicineSession, error) {
	s, ok := t.st.sessions[appointmentID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (t *memTx) UpdateSession(_ context.Context, s *TelemedicineSession) error {
	if _, ok := t.st.sessions[s.AppointmentID]; !ok {
		return ErrSessionNotFound
	}
	s.UpdatedAt = time.Now()
	t.st.sessions[s.AppointmentID] = *s
	return nil
}

// -- Directory fake --

type fakeDirectory struct {
	patients  map[uuid.UUID]clinic.Patient
	providers map[uuid.UUID]clinic.Provider
	clinics   map[uuid.UUID]clinic.Clinic
	active    uuid.UUID // fallback active clinic; Nil means none
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		patients:  make(map[uuid.UUID]clinic.Patient),
		providers: make(map[uuid.UUID]clinic.Provider),
		clinics:   make(map[uuid.UUID]clinic.Clinic),
	}
}

func (d *fakeDirectory) GetClinicByID(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	c, ok := d.clinics[id]
	if !ok {
		return nil, clinic.ErrClinicNotFound
	}
	return &c, nil
}

func (d *fakeDirectory) GetProviderByID(_ context.Context, id uuid.UUID) (*clinic.Provider, error) {
	p, ok := d.providers[id]
	if !ok {
		return nil, clinic.ErrProviderNotFound
	}
	return &p, nil
}

func (d *fakeDirectory) GetPatientByID(_ context.Context, id uuid.UUID) (*clinic.Patient, error) {
	p, ok := d.patients[id]
	if !ok {
		return nil, clinic.ErrPatientNotFound
	}
	return &p, nil
}

func (d *fakeDirectory) ResolveClinicForProvider(_ context.Context, providerID uuid.UUID) (uuid.UUID, error) {
	p, ok := d.providers[providerID]
	if !ok {
		return uuid.Nil, clinic.ErrProviderNotFound
	}
	if p.ClinicID != nil {
		return *p.ClinicID, nil
	}
	if d.active != uuid.Nil {
		return d.active, nil
	}
	return uuid.Nil, clinic.ErrNoClinicAvailable
}

// -- Collaborator fakes --

type fakePayments struct {
	mu          sync.Mutex
	captures    []payment.CaptureRequest
	completions []payment.CompletionRequest
	refunds     []payment.RefundRequest

	captureErr    error
	completionErr error
	refundErr     error
}

func (p *fakePayments) ProcessAppointmentPayment(_ context.Context, req payment.CaptureRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.captureErr != nil {
		return p.captureErr
	}
	p.captures = append(p.captures, req)
	return nil
}

func (p *fakePayments) ProcessCompletionPayment(_ context.Context, req payment.CompletionRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completionErr != nil {
		return p.completionErr
	}
	p.completions = append(p.completions, req)
	return nil
}

func (p *fakePayments) ProcessRefund(_ context.Context, req payment.RefundRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refundErr != nil {
		return p.refundErr
	}
	p.refunds = append(p.refunds, req)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, msg)
	return nil
}
