package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/resource"
)

func createScheduleHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScheduleRequest
		if !decode(w, r, &req) {
			return
		}
		ref, err := resource.Parse(req.ResourceType, req.ResourceID)
		if err != nil {
			respondError(w, r, err)
			return
		}

		loc := svc.Location()
		sched := &availability.Schedule{
			FacilityID:     req.FacilityID,
			Resource:       ref,
			Name:           req.Name,
			Availabilities: req.Availabilities,
		}
		if !req.ValidFrom.IsZero() {
			sched.ValidFrom = req.ValidFrom.In(loc)
		}
		if !req.ValidTo.IsZero() {
			sched.ValidTo = req.ValidTo.In(loc)
		}

		if err := svc.CreateSchedule(r.Context(), sched); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sched)
	}
}

func listSchedulesHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := &query{r: r}
		f := availability.ScheduleFilter{
			FacilityID: q.uuidParam("facility"),
			Resource:   q.resourceParam(),
			Limit:      q.intParam("limit", 20),
			Offset:     q.intParam("offset", 0),
		}
		if q.err != nil {
			respondError(w, r, q.err)
			return
		}

		scheds, total, err := svc.ListSchedules(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if scheds == nil {
			scheds = []availability.Schedule{}
		}
		writeJSON(w, http.StatusOK, ListResponse[availability.Schedule]{Count: total, Results: scheds})
	}
}

func getScheduleHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		sched, err := svc.GetSchedule(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sched)
	}
}

func updateScheduleHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req UpdateScheduleRequest
		if !decode(w, r, &req) {
			return
		}
		if req.ValidFrom.IsZero() || req.ValidTo.IsZero() {
			respondError(w, r, apperr.Validation("valid_from and valid_to are required"))
			return
		}

		loc := svc.Location()
		sched := &availability.Schedule{
			ID:        id,
			Name:      req.Name,
			ValidFrom: req.ValidFrom.In(loc),
			ValidTo:   req.ValidTo.In(loc),
		}
		if err := svc.UpdateSchedule(r.Context(), sched); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sched)
	}
}

func deleteScheduleHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		if err := svc.DeleteSchedule(r.Context(), id); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func addAvailabilityHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var a availability.Availability
		if !decode(w, r, &a) {
			return
		}
		a.ID = uuid.Nil
		if err := svc.AddAvailability(r.Context(), id, &a); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func removeAvailabilityHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		availID, ok := pathUUID(w, r, "availabilityId")
		if !ok {
			return
		}
		if err := svc.RemoveAvailability(r.Context(), id, availID); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func createExceptionHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExceptionRequest
		if !decode(w, r, &req) {
			return
		}
		ref, err := resource.Parse(req.ResourceType, req.ResourceID)
		if err != nil {
			respondError(w, r, err)
			return
		}

		ex := &availability.Exception{
			FacilityID: req.FacilityID,
			Resource:   ref,
			Reason:     req.Reason,
			ValidFrom:  req.ValidFrom,
			ValidTo:    req.ValidTo,
			StartTime:  req.StartTime,
			EndTime:    req.EndTime,
		}
		res, err := svc.CreateException(r.Context(), ex, req.Confirm)
		if err != nil {
			var ae *apperr.Error
			if errors.Is(err, availability.ErrOverlapsExistingBooking) && errors.As(err, &ae) {
				writeJSON(w, http.StatusConflict, ErrorResponse{Error: ae.Code, Details: ae.Message, Affected: res.Affected})
				return
			}
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func listExceptionsHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := &query{r: r}
		f := availability.ExceptionFilter{
			FacilityID: q.uuidParam("facility"),
			Resource:   q.resourceParam(),
			From:       q.dateParam("from"),
			To:         q.dateParam("to"),
		}
		if q.err != nil {
			respondError(w, r, q.err)
			return
		}

		exceptions, err := svc.ListExceptions(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if exceptions == nil {
			exceptions = []availability.Exception{}
		}
		writeJSON(w, http.StatusOK, ListResponse[availability.Exception]{Count: len(exceptions), Results: exceptions})
	}
}

func deleteExceptionHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		if err := svc.DeleteException(r.Context(), id); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
