package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/cashflow-service/internal/clock"
	"github.com/Dan9191/cashflow-service/internal/middleware"
	"github.com/Dan9191/cashflow-service/internal/models"
	"github.com/Dan9191/cashflow-service/internal/service"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc   *service.Service
	clock clock.Clock
}

func NewHandler(svc *service.Service, c clock.Clock) *Handler {
	if c == nil {
		c = clock.Real{}
	}
	return &Handler{svc: svc, clock: c}
}

// Register mounts every route on r. Callers add authentication to r first.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/definitions", h.CreateDefinition).Methods(http.MethodPost)
	r.HandleFunc("/definitions", h.ListDefinitions).Methods(http.MethodGet)
	r.HandleFunc("/definitions/{id:[0-9]+}", h.GetDefinition).Methods(http.MethodGet)
	r.HandleFunc("/definitions/{id:[0-9]+}/active", h.SetDefinitionActive).Methods(http.MethodPut)
	r.HandleFunc("/definitions/{id:[0-9]+}/next", h.NextOccurrence).Methods(http.MethodGet)
	r.HandleFunc("/definitions/{id:[0-9]+}/occurrences", h.GenerateOccurrence).Methods(http.MethodPost)
	r.HandleFunc("/definitions/{id:[0-9]+}/skip", h.SkipOccurrence).Methods(http.MethodPost)
	r.HandleFunc("/definitions/{id:[0-9]+}/confirm", h.ConfirmIncome).Methods(http.MethodPost)
	r.HandleFunc("/auto-generate", h.AutoGenerate).Methods(http.MethodPost)
	r.HandleFunc("/forecast", h.GetForecast).Methods(http.MethodGet)
	r.HandleFunc("/forecast", h.DeleteForecast).Methods(http.MethodDelete)
	r.HandleFunc("/forecast/overrides/{date}", h.SetManualOverride).Methods(http.MethodPut)
	r.HandleFunc("/forecast/overrides/{date}", h.ClearManualOverride).Methods(http.MethodDelete)
}

type createDefinitionRequest struct {
	Kind                 models.Kind       `json:"kind"`
	Name                 string            `json:"name"`
	Frequency            models.Frequency  `json:"frequency"`
	DayOfMonth           *int              `json:"day_of_month"`
	DayOfWeek            *int              `json:"day_of_week"`
	AmountType           models.AmountType `json:"amount_type"`
	Amount               decimal.Decimal   `json:"amount"`
	AmountMax            *decimal.Decimal  `json:"amount_max"`
	StartDate            string            `json:"start_date"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
	IsPrimarySalary      bool              `json:"is_primary_salary"`
}

// CreateDefinition handles recurring definition creation
func (h *Handler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req createDefinitionRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, r, &service.ValidationError{Field: "start_date", Reason: err.Error()})
		return
	}

	def, err := h.svc.CreateDefinition(r.Context(), &models.RecurringDefinition{
		OwnerID:              ownerID,
		Kind:                 req.Kind,
		Name:                 req.Name,
		Frequency:            req.Frequency,
		DayOfMonth:           req.DayOfMonth,
		DayOfWeek:            req.DayOfWeek,
		AmountType:           req.AmountType,
		Amount:               req.Amount,
		AmountMax:            req.AmountMax,
		StartDate:            start,
		RequiresConfirmation: req.RequiresConfirmation,
		IsPrimarySalary:      req.IsPrimarySalary,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

// ListDefinitions returns the caller's active definitions
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	defs, err := h.svc.ListDefinitions(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

// GetDefinition returns one definition
func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}
	def, err := h.svc.GetDefinition(r.Context(), ownerID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// SetDefinitionActive activates or deactivates a definition
func (h *Handler) SetDefinitionActive(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeError(w, r, &service.ValidationError{Field: "active", Reason: "is required"})
		return
	}
	if err := h.svc.SetDefinitionActive(r.Context(), ownerID, id, *req.Active); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NextOccurrence previews the occurrence after ?from= (default: the stored
// next occurrence) without changing anything
func (h *Handler) NextOccurrence(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}
	def, err := h.svc.GetDefinition(r.Context(), ownerID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from := def.NextOccurrence
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = parseDate(raw); err != nil {
			writeError(w, r, &service.ValidationError{Field: "from", Reason: err.Error()})
			return
		}
	}
	next, err := h.svc.ScheduleAdvance(def, from)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"from": from.Format(time.DateOnly),
		"next": next.Format(time.DateOnly),
	})
}

type amountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// GenerateOccurrence records the current occurrence of a definition
func (h *Handler) GenerateOccurrence(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	record, err := h.svc.GenerateOccurrence(r.Context(), ownerID, id, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// SkipOccurrence advances a definition without recording anything
func (h *Handler) SkipOccurrence(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}
	next, err := h.svc.SkipOccurrence(r.Context(), ownerID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"next_occurrence": next.Format(time.DateOnly)})
}

// ConfirmIncome records the receipt of an income requiring confirmation
func (h *Handler) ConfirmIncome(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		ActualDate string           `json:"actual_date"`
		Amount     *decimal.Decimal `json:"amount"`
		Force      bool             `json:"force"`
	}
	if !decode(w, r, &req) {
		return
	}
	actual, err := parseDate(req.ActualDate)
	if err != nil {
		writeError(w, r, &service.ValidationError{Field: "actual_date", Reason: err.Error()})
		return
	}
	record, err := h.svc.ConfirmIncome(r.Context(), ownerID, id, actual, req.Amount, req.Force)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// AutoGenerate brings every due definition up to date. as_of defaults to today.
func (h *Handler) AutoGenerate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req struct {
		AsOf string `json:"as_of"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	asOf := clock.Today(h.clock)
	if req.AsOf != "" {
		var err error
		if asOf, err = parseDate(req.AsOf); err != nil {
			writeError(w, r, &service.ValidationError{Field: "as_of", Reason: err.Error()})
			return
		}
	}
	result, err := h.svc.AutoGenerate(r.Context(), ownerID, asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetForecast returns the projection for ?start=&end=
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	start, end, ok := dateRange(w, r)
	if !ok {
		return
	}
	days, err := h.svc.GetForecast(r.Context(), ownerID, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, days)
}

// DeleteForecast drops stored forecast days for ?start=&end=
func (h *Handler) DeleteForecast(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	start, end, ok := dateRange(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteForecast(r.Context(), ownerID, start, end); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetManualOverride replaces the predicted spend of one date
func (h *Handler) SetManualOverride(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, r, &service.ValidationError{Field: "amount", Reason: "is required"})
		return
	}
	if err := h.svc.SetManualOverride(r.Context(), ownerID, date, *req.Amount); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearManualOverride removes the override of one date
func (h *Handler) ClearManualOverride(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	if err := h.svc.ClearManualOverride(r.Context(), ownerID, date); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ownerID, ok := middleware.OwnerID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, false
	}
	return ownerID, true
}

func (h *Handler) ownerAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, r, &service.ValidationError{Field: "id", Reason: "must be a number"})
		return 0, 0, false
	}
	return ownerID, id, true
}

func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	start, err := parseDate(q.Get("start"))
	if err != nil {
		writeError(w, r, &service.ValidationError{Field: "start", Reason: err.Error()})
		return time.Time{}, time.Time{}, false
	}
	end, err := parseDate(q.Get("end"))
	if err != nil {
		writeError(w, r, &service.ValidationError{Field: "end", Reason: err.Error()})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func pathDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	date, err := parseDate(mux.Vars(r)["date"])
	if err != nil {
		writeError(w, r, &service.ValidationError{Field: "date", Reason: err.Error()})
		return time.Time{}, false
	}
	return date, true
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("is required")
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("must be a YYYY-MM-DD date")
	}
	return t, nil
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, &service.ValidationError{Field: "body", Reason: "malformed JSON"})
		return false
	}
	return true
}

// decodeOptional accepts an empty body, including an empty chunked one
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 || r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		writeError(w, r, &service.ValidationError{Field: "body", Reason: "malformed JSON"})
		return false
	}
	return true
}
