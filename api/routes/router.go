package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/welfare-engine/api/controllers"
	"github.com/angelmondragon/welfare-engine/api/middleware"
	"github.com/angelmondragon/welfare-engine/internal/audit"
	"github.com/angelmondragon/welfare-engine/internal/checkout"
	"github.com/angelmondragon/welfare-engine/internal/inventory"
	"github.com/angelmondragon/welfare-engine/internal/requests"
	"github.com/angelmondragon/welfare-engine/internal/tasks"
	"github.com/angelmondragon/welfare-engine/internal/wallet"
	"github.com/angelmondragon/welfare-engine/pkg/auth"
	"github.com/angelmondragon/welfare-engine/pkg/config"
	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/angelmondragon/welfare-engine/pkg/redis"
)

// Services groups the engine services exposed over HTTP.
type Services struct {
	Wallet    wallet.Service
	Inventory inventory.Service
	Checkout  checkout.Service
	Tasks     tasks.Service
	Requests  requests.Service
	Audit     audit.Recorder

	// HTTPMetrics is optional.
	HTTPMetrics *metrics.HTTPMetrics
}

// NewRouter mounts health, metrics and the authenticated /api/v1 surface.
// redisP may be nil when redis is not configured; metricsHandler may be nil
// to skip /metrics.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	metricsHandler http.Handler,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, svc.HTTPMetrics),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	admin := middleware.RequireRole(logg, enums.ActorRoleAdmin)
	selfOrAdmin := middleware.RequireRole(logg, enums.ActorRoleResident, enums.ActorRoleAdmin)
	staffOrAdmin := middleware.RequireRole(logg, enums.ActorRoleStaff, enums.ActorRoleAdmin)
	idempotent := middleware.RequireIdempotencyKey(logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(auth.NewVerifier(cfg.Auth), logg))

		r.Route("/residents", func(r chi.Router) {
			r.With(admin).Post("/", controllers.ResidentProvision(svc.Wallet, logg))
			r.Route("/{residentId}", func(r chi.Router) {
				r.Get("/", controllers.ResidentGet(svc.Wallet, logg))
				r.Get("/balance", controllers.ResidentBalance(svc.Wallet, logg))
				r.With(admin, idempotent).Post("/debit", controllers.ResidentDebit(svc.Wallet, logg))
				r.With(admin, idempotent).Post("/credit", controllers.ResidentCredit(svc.Wallet, logg))

				r.Route("/cart", func(r chi.Router) {
					r.Use(selfOrAdmin)
					r.Get("/", controllers.CartGet(svc.Checkout, logg))
					r.Post("/", controllers.CartAdd(svc.Checkout, logg))
					r.Put("/{itemId}", controllers.CartSetQuantity(svc.Checkout, logg))
					r.Delete("/{itemId}", controllers.CartRemove(svc.Checkout, logg))
				})
				r.With(selfOrAdmin, idempotent).Post("/checkout", controllers.CheckoutCreate(svc.Checkout, logg))
			})
		})

		r.Get("/checkouts/{checkoutId}", controllers.CheckoutGet(svc.Checkout, logg))

		r.Route("/items", func(r chi.Router) {
			r.Get("/", controllers.ItemList(svc.Inventory, logg))
			r.With(admin).Post("/", controllers.ItemCreate(svc.Inventory, logg))
			r.Route("/{itemId}", func(r chi.Router) {
				r.Get("/", controllers.ItemGet(svc.Inventory, logg))
				r.Get("/availability", controllers.ItemAvailability(svc.Inventory, logg))
				r.Group(func(r chi.Router) {
					r.Use(admin)
					r.Patch("/", controllers.ItemUpdate(svc.Inventory, logg))
					r.Post("/decrement", controllers.ItemDecrement(svc.Inventory, logg))
					r.Post("/restock", controllers.ItemRestock(svc.Inventory, logg))
					r.Put("/stock", controllers.ItemSetStock(svc.Inventory, logg))
				})
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", controllers.TaskList(svc.Tasks, logg))
			r.With(staffOrAdmin).Post("/", controllers.TaskCreate(svc.Tasks, logg))
			r.Get("/{taskId}", controllers.TaskGet(svc.Tasks, logg))
			r.Post("/{taskId}/transition", controllers.TaskTransition(svc.Tasks, logg))
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", controllers.RequestList(svc.Requests, logg))
			r.Post("/", controllers.RequestCreate(svc.Requests, logg))
			r.Get("/{requestId}", controllers.RequestGet(svc.Requests, logg))
			r.With(admin).Post("/{requestId}/transition", controllers.RequestTransition(svc.Requests, logg))
		})

		r.With(admin).Get("/audit", controllers.AuditList(svc.Audit, logg))
	})

	return r
}
