package router

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/muranga-mess/api/internal/config"
	"github.com/muranga-mess/api/internal/enum"
	"github.com/muranga-mess/api/internal/handler"
	mw "github.com/muranga-mess/api/internal/middleware"
	"github.com/muranga-mess/api/internal/ws"
	"golang.org/x/time/rate"
)

// Checkout endpoints start a paid gateway request, so they are throttled per IP.
const (
	checkoutEvery = 6 * time.Second
	checkoutBurst = 5
)

// Services are the handler dependencies built by cmd/server.
type Services struct {
	Auth   handler.AuthStore
	Orders interface {
		handler.OrderServicer
		handler.CounterServicer
	}
	Payments interface {
		handler.PaymentReconciler
		handler.PaymentSettler
	}
	Menus    handler.MenuServicer
	Location *time.Location
}

// New creates a Chi router with all application routes wired up.
// Applies authentication, rate limiting, and role-based middleware as needed.
func New(cfg *config.Config, svc Services, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	authHandler := handler.NewAuthHandler(svc.Auth, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	menuHandler := handler.NewMenuHandler(svc.Menus)
	menuHandler.RegisterRoutes(r)

	checkoutHandler := handler.NewCheckoutHandler(svc.Orders, svc.Payments)
	checkoutHandler.RegisterRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(mw.NewIPRateLimiter(rate.Every(checkoutEvery), checkoutBurst)))
		r.Post("/orders", checkoutHandler.Place)
		r.Post("/orders/{code}/payment/query", checkoutHandler.QueryPayment)
	})

	callbackHandler := handler.NewCallbackHandler(svc.Payments, svc.Location)
	callbackHandler.RegisterRoutes(r)

	// WebSocket routes. Order rooms are open to whoever holds the code;
	// menu rooms check the staff token from the query string.
	r.Get("/ws/orders/{code}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeOrderWS(hub, w, r)
	})
	r.Get("/ws/menus/{id}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeMenuWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		staffHandler := handler.NewStaffHandler(svc.Orders)
		r.Route("/staff", staffHandler.RegisterRoutes)

		r.Route("/admin", func(r chi.Router) {
			r.Use(mw.RequireRole(enum.RoleITAdmin, enum.RoleManager))
			menuHandler.RegisterAdminRoutes(r)
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}
