package fare

import (
	"math"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

// Pricing holds the two constants behind every quote. The booking-fee-plus
// per-mile formula is the single canonical one; the legacy per-mile-only
// driver listing price was dropped in favor of it.
type Pricing struct {
	BookingFeeCents   int64
	PricePerMileCents int64
}

// DefaultPricing is $3.00 flat plus $2.00 per mile.
var DefaultPricing = Pricing{BookingFeeCents: 300, PricePerMileCents: 200}

// QuoteBaseCents turns a distance into the base fare in integer cents.
func (p Pricing) QuoteBaseCents(distanceMiles float64) int64 {
	if distanceMiles < 0 {
		distanceMiles = 0
	}
	return p.BookingFeeCents + roundHalfUp(float64(p.PricePerMileCents)*distanceMiles)
}

// Compute produces the fare breakdown for a base amount. The cash discount
// applies only to CASH payments and only when the rate is positive; the
// final amount is clamped at zero.
func Compute(baseCents int64, payment models.PaymentType, cashDiscountBps int64) models.FareBreakdown {
	var discount int64
	if payment == models.PaymentCash && cashDiscountBps > 0 {
		discount = roundHalfUp(float64(baseCents) * float64(cashDiscountBps) / 10000.0)
	}
	final := baseCents - discount
	if final < 0 {
		final = 0
	}
	return models.FareBreakdown{
		BaseAmountCents:  baseCents,
		DiscountCents:    discount,
		FinalAmountCents: final,
	}
}

// DisplayTotalCents is the one precedence rule for every rendered total:
// a booking's frozen snapshot wins; otherwise compute from the ride's stored
// total and the pending booking's payment terms; otherwise quote fresh from
// distance. Every caller (listings, portal, receipts) goes through here so
// the same ride always shows the same number.
func DisplayTotalCents(p Pricing, ride *models.Ride, booking *models.Booking) int64 {
	if booking != nil && booking.FinalAmountCents > 0 &&
		(booking.Status == models.BookingAccepted || booking.Status == models.BookingCompleted) {
		return booking.FinalAmountCents
	}
	base := int64(0)
	if ride != nil {
		if ride.TotalPriceCents != nil && *ride.TotalPriceCents > 0 {
			base = *ride.TotalPriceCents
		} else {
			base = p.QuoteBaseCents(ride.DistanceMiles)
		}
	}
	if booking != nil {
		return Compute(base, booking.PaymentType, booking.CashDiscountBps).FinalAmountCents
	}
	return base
}

// roundHalfUp rounds a non-negative value to the nearest integer, halves up.
func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
