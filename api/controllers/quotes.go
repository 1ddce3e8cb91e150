package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucasferrand/mangetout-backend/api/responses"
	"github.com/lucasferrand/mangetout-backend/api/validators"
	"github.com/lucasferrand/mangetout-backend/internal/fees"
	"github.com/lucasferrand/mangetout-backend/internal/restaurants"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
	"github.com/lucasferrand/mangetout-backend/pkg/geocode"
	"github.com/lucasferrand/mangetout-backend/pkg/logger"
)

// AddressResolver geocodes a delivery address when the caller has no coordinates.
type AddressResolver interface {
	Resolve(ctx context.Context, address string) (geocode.LatLng, error)
}

type quoteRequest struct {
	RestaurantID string   `json:"restaurant_id" validate:"required,uuid4"`
	Address      string   `json:"address,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Subtotal     string   `json:"subtotal" validate:"required"`
}

type quoteResponse struct {
	RestaurantID uuid.UUID       `json:"restaurant_id"`
	DistanceKm   float64         `json:"distance_km"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	Total        decimal.Decimal `json:"total"`
}

// FeeQuote prices a prospective delivery without creating an order.
func FeeQuote(schedule fees.Schedule, resolver AddressResolver, restaurantsSvc restaurants.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if restaurantsSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "restaurants service unavailable"))
			return
		}

		var payload quoteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		restaurantID, err := uuid.Parse(payload.RestaurantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid restaurant id"))
			return
		}
		subtotal, err := decimal.NewFromString(payload.Subtotal)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subtotal"))
			return
		}
		if subtotal.IsNegative() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "subtotal must not be negative"))
			return
		}

		restaurant, err := restaurantsSvc.Get(r.Context(), restaurantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var lat, lon float64
		switch {
		case payload.Latitude != nil && payload.Longitude != nil:
			lat, lon = *payload.Latitude, *payload.Longitude
		case payload.Address != "":
			if resolver == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "geocoding unavailable"))
				return
			}
			point, err := resolver.Resolve(r.Context(), payload.Address)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			lat, lon = point.Latitude, point.Longitude
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "address or coordinates required"))
			return
		}

		distance := fees.Distance(restaurant.Latitude, restaurant.Longitude, lat, lon)
		fee, err := schedule.DeliveryFee(distance, subtotal)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, quoteResponse{
			RestaurantID: restaurantID,
			DistanceKm:   distance,
			Subtotal:     subtotal,
			DeliveryFee:  fee,
			Total:        subtotal.Add(fee),
		})
	}
}
