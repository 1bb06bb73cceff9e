/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND QUANTITY:
  Money travels as decimal strings ("120.50"), never JSON numbers, so
  amounts round-trip exactly. Quantities are plain integers.

TYPES:
  Lines:
    LineDTO, AllocationDTO, RecordLineRequest, PackLineRequest,
    ReturnUnitsRequest, SetCouponRequest

  Lots:
    LotDTO, SaveLotRequest

  Quotes and orders:
    QuoteDTO, LineQuoteDTO, CheckoutRequest, PaymentEntryDTO, OrderDTO

  Coupons:
    CouponDTO

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - dispense/types.go: Domain model these mirror
*/
package api

import (
	"time"

	"github.com/warp/pharmacy-engine/dispense"
	"github.com/warp/pharmacy-engine/pharmacy"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// LineDTO represents a medicine line in API responses.
type LineDTO struct {
	ID                 string          `json:"id"`
	AppointmentID      string          `json:"appointment_id"`
	ItemID             string          `json:"item_id"`
	ItemName           string          `json:"item_name"`
	PrescribedQuantity int             `json:"prescribed_quantity"`
	AvailableQuantity  int             `json:"available_quantity"`
	Stage              string          `json:"stage"`
	CouponApplied      bool            `json:"coupon_applied"`
	Allocations        []AllocationDTO `json:"allocations,omitempty"`
}

// AllocationDTO represents one lot allocation on a line.
type AllocationDTO struct {
	LotID            string `json:"lot_id"`
	BatchNo          string `json:"batch_no"`
	ExpiryDate       string `json:"expiry_date"`
	UnitPrice        string `json:"unit_price"`
	UsedQuantity     int    `json:"used_quantity"`
	ReturnedQuantity int    `json:"returned_quantity"`
}

// RecordLineRequest is the request to record a prescribed line.
type RecordLineRequest struct {
	ID                 string `json:"id"`
	AppointmentID      string `json:"appointment_id"`
	ItemID             string `json:"item_id"`
	ItemName           string `json:"item_name"`
	PrescribedQuantity int    `json:"prescribed_quantity"`
}

// AllocationRequestDTO is one (lot, quantity) pair of an operator's selection.
type AllocationRequestDTO struct {
	LotID    string `json:"lot_id"`
	Quantity int    `json:"quantity"`
}

// PackLineRequest is the request to pack a line from selected lots.
type PackLineRequest struct {
	Allocations []AllocationRequestDTO `json:"allocations"`
	Quantity    int                    `json:"quantity"`
}

// ReturnUnitsRequest is the request to return units from a packed line.
type ReturnUnitsRequest struct {
	Returns []AllocationRequestDTO `json:"returns"`
}

// SetCouponRequest toggles the full line discount.
type SetCouponRequest struct {
	Applied bool `json:"applied"`
}

// LotDTO represents an inventory lot in API responses.
type LotDTO struct {
	ID                string `json:"id"`
	ItemID            string `json:"item_id"`
	BranchID          string `json:"branch_id"`
	BatchNo           string `json:"batch_no"`
	ExpiryDate        string `json:"expiry_date"`
	UnitPrice         string `json:"unit_price"`
	RemainingQuantity int    `json:"remaining_quantity"`
}

// SaveLotRequest is the request to record or adjust a lot.
type SaveLotRequest struct {
	ID                string `json:"id"`
	ItemID            string `json:"item_id"`
	BatchNo           string `json:"batch_no"`
	ExpiryDate        string `json:"expiry_date"` // YYYY-MM-DD
	UnitPrice         string `json:"unit_price"`
	RemainingQuantity int    `json:"remaining_quantity"`
}

// LineQuoteDTO is one line of a price preview.
type LineQuoteDTO struct {
	LineID        string `json:"line_id"`
	ItemName      string `json:"item_name"`
	Stage         string `json:"stage"`
	UsedQuantity  int    `json:"used_quantity"`
	Price         string `json:"price"`
	CouponApplied bool   `json:"coupon_applied"`
}

// QuoteDTO is the price preview for an appointment.
type QuoteDTO struct {
	AppointmentID  string         `json:"appointment_id"`
	Lines          []LineQuoteDTO `json:"lines"`
	TotalAmount    string         `json:"total_amount"`
	DiscountAmount string         `json:"discount_amount"`
	PayableAmount  string         `json:"payable_amount"`
	CouponCode     string         `json:"coupon_code,omitempty"`
}

// PaymentEntryDTO is one (method, amount) payment entry.
type PaymentEntryDTO struct {
	Method string `json:"method"`
	Amount string `json:"amount"`
}

// CheckoutRequest is the request to settle an appointment's packed lines.
type CheckoutRequest struct {
	Mode       string            `json:"mode"` // "single" or "split"
	Payments   []PaymentEntryDTO `json:"payments"`
	CouponCode string            `json:"coupon_code,omitempty"`
}

// OrderDTO is the committed order returned after checkout.
type OrderDTO struct {
	OrderID        string            `json:"order_id"`
	AppointmentID  string            `json:"appointment_id"`
	TotalAmount    string            `json:"total_amount"`
	DiscountAmount string            `json:"discount_amount"`
	PaidAmount     string            `json:"paid_amount"`
	CouponCode     string            `json:"coupon_code,omitempty"`
	Payments       []PaymentEntryDTO `json:"payments"`
	Lines          []LineDTO         `json:"lines"`
}

// CouponDTO represents an order coupon.
type CouponDTO struct {
	Code               string `json:"code"`
	DiscountPercentage string `json:"discount_percentage"`
	Description        string `json:"description,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toLineDTO(line dispense.MedicineLine) LineDTO {
	dto := LineDTO{
		ID:                 string(line.ID),
		AppointmentID:      string(line.AppointmentID),
		ItemID:             string(line.ItemID),
		ItemName:           line.ItemName,
		PrescribedQuantity: int(line.PrescribedQuantity),
		AvailableQuantity:  int(line.AvailableQuantity),
		Stage:              string(line.Stage),
		CouponApplied:      line.CouponApplied,
	}
	for _, a := range line.Allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			LotID:            string(a.LotID),
			BatchNo:          a.BatchNo,
			ExpiryDate:       a.ExpiryDate.Format("2006-01-02"),
			UnitPrice:        a.UnitPrice.String(),
			UsedQuantity:     int(a.UsedQuantity),
			ReturnedQuantity: int(a.ReturnedQuantity),
		})
	}
	return dto
}

func toLineDTOs(lines []dispense.MedicineLine) []LineDTO {
	dtos := make([]LineDTO, len(lines))
	for i, line := range lines {
		dtos[i] = toLineDTO(line)
	}
	return dtos
}

func toLotDTO(lot dispense.Lot) LotDTO {
	return LotDTO{
		ID:                string(lot.ID),
		ItemID:            string(lot.ItemID),
		BranchID:          string(lot.BranchID),
		BatchNo:           lot.BatchNo,
		ExpiryDate:        lot.ExpiryDate.Format("2006-01-02"),
		UnitPrice:         lot.UnitPrice.String(),
		RemainingQuantity: int(lot.RemainingQuantity),
	}
}

func toQuoteDTO(quote *pharmacy.Quote) QuoteDTO {
	dto := QuoteDTO{
		AppointmentID:  string(quote.AppointmentID),
		TotalAmount:    quote.TotalAmount.String(),
		DiscountAmount: quote.DiscountAmount.String(),
		PayableAmount:  quote.PayableAmount.String(),
		CouponCode:     quote.CouponCode,
	}
	for _, lq := range quote.Lines {
		dto.Lines = append(dto.Lines, LineQuoteDTO{
			LineID:        string(lq.LineID),
			ItemName:      lq.ItemName,
			Stage:         string(lq.Stage),
			UsedQuantity:  int(lq.UsedQuantity),
			Price:         lq.Price.String(),
			CouponApplied: lq.CouponApplied,
		})
	}
	return dto
}

func toOrderDTO(committed *dispense.CommittedOrder) OrderDTO {
	order := committed.Order
	dto := OrderDTO{
		OrderID:        string(committed.OrderID),
		AppointmentID:  string(order.AppointmentID),
		TotalAmount:    order.TotalOrderAmount.String(),
		DiscountAmount: order.DiscountAmount.String(),
		PaidAmount:     order.PaidOrderAmount.String(),
		CouponCode:     order.CouponCode,
		Lines:          toLineDTOs(committed.Lines),
	}
	for _, entry := range order.Payment.Entries {
		dto.Payments = append(dto.Payments, PaymentEntryDTO{
			Method: string(entry.Method),
			Amount: entry.Amount.String(),
		})
	}
	return dto
}

func parseExpiry(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
