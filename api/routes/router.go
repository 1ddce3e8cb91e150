package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lucasferrand/mangetout-backend/api/controllers"
	"github.com/lucasferrand/mangetout-backend/api/middleware"
	"github.com/lucasferrand/mangetout-backend/internal/admin"
	"github.com/lucasferrand/mangetout-backend/internal/couriers"
	"github.com/lucasferrand/mangetout-backend/internal/fees"
	internalorders "github.com/lucasferrand/mangetout-backend/internal/orders"
	"github.com/lucasferrand/mangetout-backend/internal/refunds"
	"github.com/lucasferrand/mangetout-backend/internal/restaurants"
	"github.com/lucasferrand/mangetout-backend/internal/settlement"
	"github.com/lucasferrand/mangetout-backend/pkg/config"
	"github.com/lucasferrand/mangetout-backend/pkg/db"
	"github.com/lucasferrand/mangetout-backend/pkg/logger"
	"github.com/lucasferrand/mangetout-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	feeSchedule fees.Schedule,
	geocoder controllers.AddressResolver,
	restaurantsSvc restaurants.Service,
	couriersSvc couriers.Service,
	ordersSvc internalorders.Service,
	refundsSvc refunds.Service,
	settlementSvc settlement.Service,
	adminSvc admin.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/quotes", controllers.FeeQuote(feeSchedule, geocoder, restaurantsSvc, logg))

		r.Route("/restaurants", func(r chi.Router) {
			r.Post("/", controllers.CreateRestaurant(restaurantsSvc, logg))
			r.Get("/", controllers.ListRestaurants(restaurantsSvc, logg))
			r.Get("/{restaurantId}", controllers.RestaurantDetail(restaurantsSvc, logg))
		})

		r.Route("/couriers", func(r chi.Router) {
			r.Post("/", controllers.CreateCourier(couriersSvc, logg))
			r.Get("/{courierId}", controllers.CourierDetail(couriersSvc, logg))
			r.Get("/{courierId}/earnings", controllers.CourierEarnings(couriersSvc, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(ordersSvc, logg))
			r.Get("/", controllers.ListOrders(ordersSvc, logg))
			r.Get("/{orderId}", controllers.OrderDetail(ordersSvc, logg))
			r.Post("/{orderId}/confirm-payment", controllers.ConfirmPayment(ordersSvc, logg))
			r.Post("/{orderId}/accept", controllers.AcceptOrder(ordersSvc, logg))
			r.Post("/{orderId}/start-preparation", controllers.StartPreparation(ordersSvc, logg))
			r.Post("/{orderId}/ready", controllers.MarkReady(ordersSvc, logg))
			r.Post("/{orderId}/assign-courier", controllers.AssignCourier(ordersSvc, logg))
			r.Post("/{orderId}/pickup", controllers.PickupOrder(ordersSvc, logg))
			r.Post("/{orderId}/deliver", controllers.ConfirmDelivery(ordersSvc, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(ordersSvc, logg))
			r.Post("/{orderId}/refunds", controllers.RequestRefund(refundsSvc, logg))
			r.Get("/{orderId}/refunds", controllers.ListOrderRefunds(refundsSvc, logg))
		})

		r.Route("/refunds", func(r chi.Router) {
			r.Get("/{refundId}", controllers.RefundDetail(refundsSvc, logg))
			r.Post("/{refundId}/approve", controllers.ApproveRefund(refundsSvc, logg))
			r.Post("/{refundId}/reject", controllers.RejectRefund(refundsSvc, logg))
			r.Post("/{refundId}/execute", controllers.ExecuteRefund(refundsSvc, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Post("/correct-subtotal", controllers.AdminCorrectSubtotal(adminSvc, logg))
			r.Post("/reset-settlement", controllers.AdminResetSettlement(adminSvc, logg))
			r.Post("/force-refund", controllers.AdminForceRefund(adminSvc, logg))
			r.Get("/audit", controllers.AdminOrderAudit(adminSvc, logg))
		})
		r.Route("/settlement", func(r chi.Router) {
			r.Post("/run", controllers.AdminRunSettlement(settlementSvc, logg))
			r.Get("/batches", controllers.AdminListBatches(settlementSvc, logg))
			r.Get("/batches/{batchId}", controllers.AdminBatchDetail(settlementSvc, logg))
		})
		r.Route("/restaurants/{restaurantId}", func(r chi.Router) {
			r.Put("/commission-rate", controllers.SetCommissionRate(restaurantsSvc, logg))
		})
		r.Route("/couriers/{courierId}", func(r chi.Router) {
			r.Post("/recompute-totals", controllers.RecomputeCourierTotals(couriersSvc, logg))
		})
	})

	return r
}
