package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/scheduling-engine/internal/appointment"
	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/slots"
	"github.com/hackgods/scheduling-engine/internal/token"
)

func slotsForDayHandler(svc *slots.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SlotsForDayRequest
		if !decode(w, r, &req) {
			return
		}
		ref, err := resource.Parse(req.ResourceType, req.ResourceID)
		if err != nil {
			respondError(w, r, err)
			return
		}

		out, err := svc.SlotsForDay(r.Context(), ref, req.Day)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ListResponse[slots.TokenSlot]{Count: len(out), Results: out})
	}
}

func availabilityStatsHandler(svc *slots.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AvailabilityStatsRequest
		if !decode(w, r, &req) {
			return
		}
		ref, err := resource.Parse(req.ResourceType, req.ResourceID)
		if err != nil {
			respondError(w, r, err)
			return
		}

		stats, err := svc.AvailabilityStats(r.Context(), ref, req.FromDate, req.ToDate)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.BookSlot(r.Context(), appointment.BookingRequest{
			SlotID:    chi.URLParam(r, "slotId"),
			PatientID: req.PatientID,
			Note:      req.Note,
			Tags:      req.Tags,
			BookedBy:  req.BookedBy,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

// listAppointmentsHandler reads from/to as facility-local dates.
func listAppointmentsHandler(svc *appointment.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := &query{r: r}
		f := appointment.Filter{
			PatientID: q.uuidParam("patient"),
			Resource:  q.resourceParam(),
			Limit:     q.intParam("limit", 20),
			Offset:    q.intParam("offset", 0),
		}
		for _, st := range q.listParam("status") {
			f.Statuses = append(f.Statuses, appointment.Status(st))
		}
		if from := q.dateParam("from"); from != nil {
			t := from.In(loc)
			f.From = &t
		}
		if to := q.dateParam("to"); to != nil {
			t := to.AddDays(1).In(loc)
			f.To = &t
		}
		if q.err != nil {
			respondError(w, r, q.err)
			return
		}

		appts, total, err := svc.List(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if appts == nil {
			appts = []appointment.Appointment{}
		}
		writeJSON(w, http.StatusOK, ListResponse[appointment.Appointment]{Count: total, Results: appts})
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

// updateAppointmentHandler applies a status transition and/or edits the
// note and tags.
func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req UpdateAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		update := appointment.UpdateRequest{Note: req.Note}
		if req.Tags != nil {
			update.Tags = *req.Tags
			if update.Tags == nil {
				update.Tags = []string{}
			}
		}
		if req.Status != nil {
			st := appointment.Status(*req.Status)
			update.Status = &st
		}
		appt, err := svc.Update(r.Context(), id, update)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, appointment.Status(req.Reason), req.Note)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req RescheduleAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		res, err := svc.Reschedule(r.Context(), id, appointment.RescheduleRequest{
			NewSlotID: req.NewSlot,
			Note:      req.Note,
			BookedBy:  req.BookedBy,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func generateTokenHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req GenerateTokenRequest
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}

		tok, err := svc.IssueForAppointment(r.Context(), id, req.Category, req.Note)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, tok)
	}
}
