package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
)

// Scheduler is the engine surface the handlers drive.
type Scheduler interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Update(ctx context.Context, req appointment.UpdateRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, order appointment.ListOrder, limit, offset int) ([]appointment.Appointment, error)
	MoveTo(ctx context.Context, patientID, appointmentID uuid.UUID, newIndex int) ([]appointment.PriorityAssignment, error)
	SwapAdjacent(ctx context.Context, patientID, appointmentID uuid.UUID, dir appointment.Direction) ([]appointment.PriorityAssignment, error)
	Slots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]appointment.Slot, error)
	CheckAvailability(ctx context.Context, providerID uuid.UUID, start time.Time, duration time.Duration, exclude uuid.UUID) error
}

var errBadDatetime = errors.New("datetime must be RFC3339, e.g. 2030-01-07T10:00:00Z")

func parseDatetime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errBadDatetime
	}
	return t, nil
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func slotsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		providerID, err := uuid.Parse(q.Get("provider_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), "provider_id must be a valid UUID")
			return
		}
		date, err := time.Parse(time.DateOnly, q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), "date must be YYYY-MM-DD")
			return
		}

		slots, err := svc.Slots(r.Context(), providerID, date)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := SlotsResponse{
			ProviderID: providerID,
			Date:       date.Format(time.DateOnly),
			Slots:      make([]SlotResponse, 0, len(slots)),
		}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, SlotResponse{Start: s.Start, End: s.End, Available: s.Available})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func checkAvailabilityHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AvailabilityCheckRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		start, err := parseDatetime(req.Datetime)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), err.Error())
			return
		}

		providerID := uuid.MustParse(req.ProviderID)
		exclude := uuid.Nil
		if req.ExcludeAppointmentID != "" {
			exclude = uuid.MustParse(req.ExcludeAppointmentID)
		}
		duration := time.Duration(req.DurationMinutes) * time.Minute

		err = svc.CheckAvailability(r.Context(), providerID, start, duration, exclude)
		if err == nil {
			writeJSON(w, http.StatusOK, AvailabilityResponse{Available: true})
			return
		}

		// rule rejections are an answer, not a failure
		switch reason, _ := appointment.ReasonOf(err); reason {
		case appointment.ReasonOutsideAvailability, appointment.ReasonPastDateTime, appointment.ReasonSlotTaken:
			writeJSON(w, http.StatusOK, AvailabilityResponse{Available: false, Reason: string(reason), Details: err.Error()})
		default:
			handleServiceError(w, err)
		}
	}
}

func bookAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		start, err := parseDatetime(req.Datetime)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), err.Error())
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID:  uuid.MustParse(req.PatientID),
			ProviderID: uuid.MustParse(req.ProviderID),
			ServiceID:  uuid.MustParse(req.ServiceID),
			Start:      start,
			Notes:      req.Notes,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		var req UpdateAppointmentRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		update := appointment.UpdateRequest{AppointmentID: id, Notes: req.Notes}
		if req.Datetime != nil {
			start, err := parseDatetime(*req.Datetime)
			if err != nil {
				writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), err.Error())
				return
			}
			update.Start = &start
		}
		if req.ServiceID != nil {
			serviceID := uuid.MustParse(*req.ServiceID)
			update.ServiceID = &serviceID
		}
		if req.Status != nil {
			status := appointment.Status(*req.Status)
			update.Status = &status
		}

		appt, err := svc.Update(r.Context(), update)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listPatientAppointmentsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		q := r.URL.Query()
		order := appointment.ListOrder(q.Get("order"))
		if order == "" {
			order = appointment.OrderPriority
		}
		limit, err := queryInt(q.Get("limit"), 20)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), "limit must be an integer")
			return
		}
		offset, err := queryInt(q.Get("offset"), 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.ReasonValidation), "offset must be an integer")
			return
		}

		list, err := svc.ListAppointmentsByPatient(r.Context(), patientID, order, limit, offset)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := AppointmentListResponse{
			PatientID:    patientID,
			Order:        string(order),
			Limit:        limit,
			Offset:       offset,
			Appointments: make([]AppointmentResponse, 0, len(list)),
		}
		for i := range list {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func movePriorityHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		var req MovePriorityRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		ordered, err := svc.MoveTo(r.Context(), patientID, uuid.MustParse(req.AppointmentID), *req.NewIndex)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PriorityResponse{PatientID: patientID, Priorities: ordered})
	}
}

func swapPriorityHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		var req SwapPriorityRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		ordered, err := svc.SwapAdjacent(r.Context(), patientID, uuid.MustParse(req.AppointmentID), appointment.Direction(req.Direction))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PriorityResponse{PatientID: patientID, Priorities: ordered})
	}
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
