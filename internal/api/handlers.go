package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/caretide/clinic-ops/internal/appointment"
	"github.com/caretide/clinic-ops/internal/auth"
	"github.com/caretide/clinic-ops/internal/clinic"
)

var validate = validator.New()

// BookingEngine, LifecycleEngine and TelemedicineEngine are the service
// surfaces the handlers need; the concrete implementations live in the
// appointment package.
type BookingEngine interface {
	CreateAppointment(ctx context.Context, caller auth.Principal, req appointment.CreateRequest) (*appointment.Appointment, []string, error)
	Reschedule(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID, newStart time.Time) (*appointment.Appointment, error)
	CreateOpenSlot(ctx context.Context, caller auth.Principal, start time.Time, duration time.Duration) (*appointment.AvailabilitySlot, error)
}

type LifecycleEngine interface {
	UpdateStatus(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID, newStatus appointment.Status, upd appointment.StatusUpdate) (*appointment.Appointment, error)
}

type TelemedicineEngine interface {
	Start(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID) (*appointment.TelemedicineSession, error)
	Join(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID) (*appointment.TelemedicineSession, error)
	End(ctx context.Context, caller auth.Principal, appointmentID uuid.UUID, summary string) (*appointment.TelemedicineSession, []string, error)
}

type AppointmentReader interface {
	GetDetail(ctx context.Context, id uuid.UUID) (*appointment.Detail, error)
	ListDetails(ctx context.Context, filter appointment.ListFilter) ([]appointment.Detail, error)
	ListSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]appointment.AvailabilitySlot, error)
}

type Handlers struct {
	booking      BookingEngine
	lifecycle    LifecycleEngine
	telemedicine TelemedicineEngine
	reader       AppointmentReader
	slotLen      time.Duration
	env          string
}

func NewHandlers(booking BookingEngine, lifecycle LifecycleEngine, telemedicine TelemedicineEngine, reader AppointmentReader, slotLen time.Duration, env string) *Handlers {
	if slotLen <= 0 {
		slotLen = 30 * time.Minute
	}
	return &Handlers{
		booking:      booking,
		lifecycle:    lifecycle,
		telemedicine: telemedicine,
		reader:       reader,
		slotLen:      slotLen,
		env:          env,
	}
}

func (h *Handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC3339")
		return
	}

	create := appointment.CreateRequest{
		ProviderID:    uuid.MustParse(req.ProviderID),
		StartTime:     start,
		Duration:      time.Duration(req.DurationMinutes) * time.Minute,
		Type:          appointment.Type(req.Type),
		Reason:        req.Reason,
		PaymentMethod: req.PaymentMethod,
	}
	if req.PatientID != "" {
		create.PatientID = uuid.MustParse(req.PatientID)
	}
	if req.ClinicID != "" {
		id := uuid.MustParse(req.ClinicID)
		create.ClinicID = &id
	}
	if req.Specialty != "" {
		create.Specialty = &req.Specialty
	}

	appt, warnings, err := h.booking.CreateAppointment(r.Context(), caller, create)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt, warnings))
}

func (h *Handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	detail, err := h.reader.GetDetail(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	// Invisible rows are indistinguishable from absent ones.
	if !visibleTo(caller, &detail.Appointment) {
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment not found")
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(detail))
}

func (h *Handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	filter := appointment.ListFilter{
		Limit:  clampLimit(r.URL.Query().Get("limit")),
		Offset: clampOffset(r.URL.Query().Get("offset")),
	}
	switch {
	case caller.Role == auth.RolePatient:
		filter.PatientID = caller.ID
	case caller.Role.Provider():
		filter.ProviderID = caller.ID
	default: // platform roles may filter freely
		if v := r.URL.Query().Get("patient_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			filter.PatientID = id
		}
		if v := r.URL.Query().Get("provider_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
				return
			}
			filter.ProviderID = id
		}
	}

	details, err := h.reader.ListDetails(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	resp := make([]appointmentResponse, 0, len(details))
	for i := range details {
		resp = append(resp, toDetailResponse(&details[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	upd := appointment.StatusUpdate{ErrorReason: req.ErrorReason}
	if req.Notes != "" {
		upd.Notes = &req.Notes
	}
	if req.Reason != "" {
		upd.Reason = &req.Reason
	}
	if req.CheckIn != "" {
		t, err := time.Parse(time.RFC3339, req.CheckIn)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_check_in", "check_in must be RFC3339")
			return
		}
		upd.CheckIn = &t
	}
	if req.CheckOut != "" {
		t, err := time.Parse(time.RFC3339, req.CheckOut)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_check_out", "check_out must be RFC3339")
			return
		}
		upd.CheckOut = &t
	}

	appt, err := h.lifecycle.UpdateStatus(r.Context(), caller, id, appointment.Status(req.Status), upd)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt, nil))
}

func (h *Handlers) reschedule(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC3339")
		return
	}

	appt, err := h.booking.Reschedule(r.Context(), caller, id, start)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt, nil))
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	session, err := h.telemedicine.Start(r.Context(), caller, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session, nil))
}

func (h *Handlers) joinSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	session, err := h.telemedicine.Join(r.Context(), caller, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session, nil))
}

func (h *Handlers) endSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	session, warnings, err := h.telemedicine.End(r.Context(), caller, id, req.Summary)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session, warnings))
}

func (h *Handlers) createSlot(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req createSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC3339")
		return
	}

	slot, err := h.booking.CreateOpenSlot(r.Context(), caller, start, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(slot))
}

func (h *Handlers) listProviderSlots(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(w, r); !ok {
		return
	}
	providerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
		return
	}

	now := time.Now()
	from, to := now, now.Add(7*24*time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
			return
		}
	}

	slots, err := h.reader.ListSlots(r.Context(), providerID, from, to)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	resp := struct {
		Slots      []slotResponse `json:"slots"`
		OpenStarts []time.Time    `json:"open_starts"`
	}{Slots: make([]slotResponse, 0, len(slots))}

	var busy []appointment.Interval
	for i := range slots {
		resp.Slots = append(resp.Slots, toSlotResponse(&slots[i]))
		if !slots[i].IsAvailable {
			busy = append(busy, appointment.Interval{Start: slots[i].StartTime, End: slots[i].EndTime})
		}
	}
	resp.OpenStarts = appointment.AvailableStarts(from, to, h.slotLen, h.slotLen, busy, now)

	writeJSON(w, http.StatusOK, resp)
}

// respondServiceError maps the engine error taxonomy onto the HTTP status
// contract: validation 400, authorization 403, not-found 404, conflict 409,
// everything else 500 (detail hidden outside dev).
func (h *Handlers) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientRequired):
		writeError(w, http.StatusBadRequest, "patient_required", err.Error())
	case errors.Is(err, appointment.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, appointment.ErrLateWindow):
		writeError(w, http.StatusBadRequest, "late_window", err.Error())
	case errors.Is(err, appointment.ErrNoShowTooEarly):
		writeError(w, http.StatusBadRequest, "no_show_too_early", err.Error())
	case errors.Is(err, appointment.ErrNotTelemedicine):
		writeError(w, http.StatusBadRequest, "not_telemedicine", err.Error())
	case errors.Is(err, appointment.ErrSessionNotActive),
		errors.Is(err, appointment.ErrSessionClosed):
		writeError(w, http.StatusBadRequest, "session_not_active", err.Error())
	case errors.Is(err, appointment.ErrNotReschedulable):
		writeError(w, http.StatusBadRequest, "not_reschedulable", err.Error())
	case errors.Is(err, clinic.ErrNoClinicAvailable):
		writeError(w, http.StatusBadRequest, "no_clinic_available", err.Error())
	case errors.Is(err, appointment.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access_denied", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, appointment.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, clinic.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, clinic.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, clinic.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	default:
		details := "internal error"
		if h.env != "prod" {
			details = err.Error()
		}
		writeError(w, http.StatusInternalServerError, "internal_error", details)
	}
}

func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing principal")
		return auth.Principal{}, false
	}
	return p, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func visibleTo(caller auth.Principal, appt *appointment.Appointment) bool {
	if caller.Role.Platform() {
		return true
	}
	if caller.Role == auth.RolePatient {
		return appt.PatientID == caller.ID
	}
	return appt.ProviderID == caller.ID
}

func clampLimit(raw string) int {
	limit := 20
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return limit
}

func clampOffset(raw string) int {
	offset := 0
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			offset = n
		}
	}
	return offset
}
