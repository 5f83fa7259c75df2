package api

import (
	"net/http"

	"github.com/hackgods/scheduling-engine/internal/apperr"
	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/token"
)

func createQueueHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateQueueRequest
		if !decode(w, r, &req) {
			return
		}
		ref, err := resource.Parse(req.ResourceType, req.ResourceID)
		if err != nil {
			respondError(w, r, err)
			return
		}

		q, err := svc.CreateQueue(r.Context(), token.CreateQueueRequest{
			FacilityID:   req.FacilityID,
			Resource:     ref,
			Date:         req.Date,
			Name:         req.Name,
			SetIsPrimary: req.SetIsPrimary,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

func listQueuesHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := &query{r: r}
		f := token.QueueFilter{
			FacilityID: q.uuidParam("facility"),
			Resource:   q.resourceParam(),
			Date:       q.dateParam("date"),
		}
		if q.err != nil {
			respondError(w, r, q.err)
			return
		}

		queues, err := svc.ListQueues(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if queues == nil {
			queues = []token.Queue{}
		}
		writeJSON(w, http.StatusOK, ListResponse[token.Queue]{Count: len(queues), Results: queues})
	}
}

func getQueueHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		q, err := svc.GetQueue(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func closeQueueHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		q, err := svc.CloseQueue(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func setPrimaryQueueHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		q, err := svc.SetPrimary(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func issueTokenHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req IssueTokenRequest
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}

		tok, err := svc.IssueToken(r.Context(), token.IssueRequest{
			QueueID:    id,
			CategoryID: req.Category,
			Note:       req.Note,
			PatientID:  req.PatientID,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, tok)
	}
}

func queueBoardHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		board, err := svc.Board(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, board)
	}
}

func createCategoryHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateCategoryRequest
		if !decode(w, r, &req) {
			return
		}
		c := &token.Category{
			FacilityID:   req.FacilityID,
			ResourceType: resource.Type(req.ResourceType),
			Name:         req.Name,
			Shorthand:    req.Shorthand,
			IsDefault:    req.Default,
		}
		if err := svc.CreateCategory(r.Context(), c); err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func listCategoriesHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := &query{r: r}
		facility := q.uuidParam("facility")
		rt := q.resourceTypeParam()
		if q.err != nil {
			respondError(w, r, q.err)
			return
		}

		cats, err := svc.ListCategories(r.Context(), facility, rt)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if cats == nil {
			cats = []token.Category{}
		}
		writeJSON(w, http.StatusOK, ListResponse[token.Category]{Count: len(cats), Results: cats})
	}
}

func listTokensHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := &query{r: r}
		f := token.TokenFilter{
			PatientID: q.uuidParam("patient"),
			QueueID:   q.uuidParam("queue"),
			Date:      q.dateParam("date"),
		}
		if q.err != nil {
			respondError(w, r, q.err)
			return
		}

		tokens, err := svc.ListTokens(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if tokens == nil {
			tokens = []token.Token{}
		}
		writeJSON(w, http.StatusOK, ListResponse[token.Token]{Count: len(tokens), Results: tokens})
	}
}

func getTokenHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		tok, err := svc.GetToken(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tok)
	}
}

func updateTokenHandler(svc *token.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		var req UpdateTokenRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Status == "" {
			respondError(w, r, apperr.Validation("status is required"))
			return
		}

		tok, err := svc.UpdateTokenStatus(r.Context(), id, req.Status)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tok)
	}
}
