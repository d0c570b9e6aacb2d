package lifecycle

import (
	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

// rideTransitions is the allowed ride status graph. Completed and cancelled
// are terminal.
var rideTransitions = map[models.RideStatus][]models.RideStatus{
	models.RideOpen:      {models.RideAccepted, models.RideCancelled},
	models.RideAccepted:  {models.RideInRoute, models.RideCancelled},
	models.RideInRoute:   {models.RideCompleted},
	models.RideCompleted: {},
	models.RideCancelled: {},
}

// bookingTransitions mirrors the ride graph for the claim relationship.
var bookingTransitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingPending:   {models.BookingAccepted, models.BookingCancelled, models.BookingExpired},
	models.BookingAccepted:  {models.BookingCompleted, models.BookingCancelled},
	models.BookingCompleted: {},
	models.BookingCancelled: {},
	models.BookingExpired:   {},
}

func CanRideTransition(from, to models.RideStatus) bool {
	for _, s := range rideTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CanBookingTransition(from, to models.BookingStatus) bool {
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RideTerminal reports whether a ride status admits no further transitions.
func RideTerminal(s models.RideStatus) bool {
	return len(rideTransitions[s]) == 0
}
