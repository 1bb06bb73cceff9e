/*
handlers.go - HTTP API handlers for the dispensing system

PURPOSE:
  Exposes the dispensing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the Dispensary for domain logic.

ENDPOINTS:
  Lines:
    POST   /api/lines                     Record prescribed line
    GET    /api/lines/{id}                Get line details
    POST   /api/lines/{id}/pack           Pack from selected lots
    GET    /api/lines/{id}/suggestion     First-expiry-first-out suggestion
    POST   /api/lines/{id}/returns        Return units before payment
    PUT    /api/lines/{id}/coupon         Toggle full line discount

  Appointments:
    GET    /api/appointments/{id}/lines    All lines for appointment
    GET    /api/appointments/{id}/quote    Price preview (?coupon=CODE)
    POST   /api/appointments/{id}/checkout Settle packed lines

  Inventory:
    GET    /api/items/{id}/lots           Lot snapshot for an item
    POST   /api/lots                      Record or adjust a lot

  Coupons:
    GET    /api/coupons                   List order coupons

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed request bodies, unknown payment methods
  - 404: Line, lot, or coupon not found
  - 409: Stock consumed by a concurrent checkout (retryable: true)
  - 422: Engine validation failures (stage, quantity, amount mismatch)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - pharmacy/dispensary.go: Domain logic behind every handler
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/pharmacy-engine/dispense"
	"github.com/warp/pharmacy-engine/factory"
	"github.com/warp/pharmacy-engine/pharmacy"
	"github.com/warp/pharmacy-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Dispensary *pharmacy.Dispensary
	Coupons    *factory.CouponCatalog
}

// NewHandler creates a new handler over the store and dispensary.
func NewHandler(store *sqlite.Store, dispensary *pharmacy.Dispensary, coupons *factory.CouponCatalog) *Handler {
	return &Handler{Store: store, Dispensary: dispensary, Coupons: coupons}
}

// =============================================================================
// LINE HANDLERS
// =============================================================================

// RecordLine records a prescribed medicine line.
func (h *Handler) RecordLine(w http.ResponseWriter, r *http.Request) {
	var req RecordLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PrescribedQuantity < 0 {
		writeError(w, http.StatusBadRequest, "prescribed_quantity must not be negative", nil)
		return
	}

	line, err := h.Dispensary.RecordPrescription(r.Context(), dispense.MedicineLine{
		ID:                 dispense.LineID(req.ID),
		AppointmentID:      dispense.AppointmentID(req.AppointmentID),
		ItemID:             dispense.ItemID(req.ItemID),
		ItemName:           req.ItemName,
		PrescribedQuantity: dispense.Quantity(req.PrescribedQuantity),
	})
	if err != nil {
		writeEngineError(w, "Failed to record line", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineDTO(*line))
}

// GetLine returns a single line with its allocations.
func (h *Handler) GetLine(w http.ResponseWriter, r *http.Request) {
	id := dispense.LineID(chi.URLParam(r, "id"))

	line, err := h.Store.GetLine(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get line", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

// PackLine advances a line to Packed from the operator's lot selection.
func (h *Handler) PackLine(w http.ResponseWriter, r *http.Request) {
	id := dispense.LineID(chi.URLParam(r, "id"))

	var req PackLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	requests := make([]dispense.AllocationRequest, len(req.Allocations))
	for i, a := range req.Allocations {
		requests[i] = dispense.AllocationRequest{
			LotID:    dispense.LotID(a.LotID),
			Quantity: dispense.Quantity(a.Quantity),
		}
	}

	line, err := h.Dispensary.PackLine(r.Context(), id, requests, dispense.Quantity(req.Quantity))
	if err != nil {
		writeEngineError(w, "Failed to pack line", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

// SuggestPack returns a first-expiry-first-out selection for the line.
func (h *Handler) SuggestPack(w http.ResponseWriter, r *http.Request) {
	id := dispense.LineID(chi.URLParam(r, "id"))

	suggestion, err := h.Dispensary.SuggestPack(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to suggest allocation", err)
		return
	}

	dtos := make([]AllocationRequestDTO, len(suggestion))
	for i, s := range suggestion {
		dtos[i] = AllocationRequestDTO{LotID: string(s.LotID), Quantity: int(s.Quantity)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReturnUnits hands units back from a packed line.
func (h *Handler) ReturnUnits(w http.ResponseWriter, r *http.Request) {
	id := dispense.LineID(chi.URLParam(r, "id"))

	var req ReturnUnitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	returns := make(map[dispense.LotID]dispense.Quantity, len(req.Returns))
	for _, entry := range req.Returns {
		returns[dispense.LotID(entry.LotID)] += dispense.Quantity(entry.Quantity)
	}

	line, err := h.Dispensary.ReturnUnits(r.Context(), id, returns)
	if err != nil {
		writeEngineError(w, "Failed to return units", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

// SetCoupon toggles the full discount on a line.
func (h *Handler) SetCoupon(w http.ResponseWriter, r *http.Request) {
	id := dispense.LineID(chi.URLParam(r, "id"))

	var req SetCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	line, err := h.Dispensary.SetLineCoupon(r.Context(), id, req.Applied)
	if err != nil {
		writeEngineError(w, "Failed to set line coupon", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

// =============================================================================
// APPOINTMENT HANDLERS
// =============================================================================

// ListLines returns every line recorded for an appointment.
func (h *Handler) ListLines(w http.ResponseWriter, r *http.Request) {
	appointmentID := dispense.AppointmentID(chi.URLParam(r, "id"))

	lines, err := h.Store.LinesByAppointment(r.Context(), appointmentID)
	if err != nil {
		writeEngineError(w, "Failed to list lines", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTOs(lines))
}

// GetQuote prices the appointment's current lines without committing.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	appointmentID := dispense.AppointmentID(chi.URLParam(r, "id"))
	couponCode := r.URL.Query().Get("coupon")

	quote, err := h.Dispensary.Quote(r.Context(), appointmentID, couponCode)
	if err != nil {
		writeEngineError(w, "Failed to compute quote", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(quote))
}

// Checkout settles the appointment's packed lines.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	appointmentID := dispense.AppointmentID(chi.URLParam(r, "id"))

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	payment, err := parsePayment(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment", err)
		return
	}

	committed, err := h.Dispensary.Checkout(r.Context(), appointmentID, payment, req.CouponCode)
	if err != nil {
		writeEngineError(w, "Checkout failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(committed))
}

func parsePayment(req CheckoutRequest) (dispense.Payment, error) {
	entries := make([]dispense.PaymentEntry, len(req.Payments))
	for i, p := range req.Payments {
		amount, err := dispense.ParseMoney(p.Amount)
		if err != nil {
			return dispense.Payment{}, err
		}
		entries[i] = dispense.PaymentEntry{
			Method: dispense.PaymentMethod(p.Method),
			Amount: amount,
		}
	}

	mode := dispense.PaymentMode(req.Mode)
	if mode == "" {
		// Default by shape; a lone entry is a single payment.
		mode = dispense.PaymentSingle
		if len(entries) > 1 {
			mode = dispense.PaymentSplit
		}
	}
	return dispense.Payment{Mode: mode, Entries: entries}, nil
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// ListLots returns the lot snapshot for an item at this branch.
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	itemID := dispense.ItemID(chi.URLParam(r, "id"))

	lots, err := h.Store.ListLots(r.Context(), itemID, h.Dispensary.Branch)
	if err != nil {
		writeEngineError(w, "Failed to list lots", err)
		return
	}

	dtos := make([]LotDTO, len(lots))
	for i, lot := range lots {
		dtos[i] = toLotDTO(lot)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveLot records or adjusts an inventory lot.
func (h *Handler) SaveLot(w http.ResponseWriter, r *http.Request) {
	var req SaveLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	expiry, err := parseExpiry(req.ExpiryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expiry_date format (use YYYY-MM-DD)", err)
		return
	}
	price, err := dispense.ParseMoney(req.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid unit_price", err)
		return
	}
	if req.RemainingQuantity < 0 {
		writeError(w, http.StatusBadRequest, "remaining_quantity must not be negative", nil)
		return
	}

	lot := dispense.Lot{
		ID:                dispense.LotID(req.ID),
		ItemID:            dispense.ItemID(req.ItemID),
		BranchID:          h.Dispensary.Branch,
		BatchNo:           req.BatchNo,
		ExpiryDate:        expiry,
		UnitPrice:         price,
		RemainingQuantity: dispense.Quantity(req.RemainingQuantity),
	}
	if err := h.Store.SaveLot(r.Context(), lot); err != nil {
		writeEngineError(w, "Failed to save lot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLotDTO(lot))
}

// =============================================================================
// COUPON HANDLERS
// =============================================================================

// ListCoupons returns the configured order coupons.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons := h.Coupons.List()
	dtos := make([]CouponDTO, len(coupons))
	for i, c := range coupons {
		dtos[i] = CouponDTO{
			Code:               c.Code,
			DiscountPercentage: c.DiscountPercentage.String(),
			Description:        c.Description,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors onto HTTP statuses. Retryable errors
// (stock consumed concurrently) get 409 and a retryable flag so clients know
// to refresh the lot snapshot and re-attempt.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case dispense.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case dispense.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     message,
			Retryable: true,
			Details:   err.Error(),
		})
	case dispense.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
