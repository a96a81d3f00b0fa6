package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirbramstech/campus-backend/api/controllers"
	webhookcontrollers "github.com/sirbramstech/campus-backend/api/controllers/webhooks"
	"github.com/sirbramstech/campus-backend/api/middleware"
	enrollment "github.com/sirbramstech/campus-backend/internal/enrollments"
	payment "github.com/sirbramstech/campus-backend/internal/payments"
	"github.com/sirbramstech/campus-backend/pkg/config"
	"github.com/sirbramstech/campus-backend/pkg/enums"
	"github.com/sirbramstech/campus-backend/pkg/logger"
)

// Pinger is the health-check surface of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP Pinger,
	redisP Pinger,
	metricsRegistry *prometheus.Registry,
	paymentService payment.Service,
	enrollmentService enrollment.Service,
	webhookService webhookcontrollers.MpesaCallbackHandler,
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

	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	// The gateway cannot authenticate, so the callback stays outside the
	// JWT-protected tree.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mpesa", webhookcontrollers.MpesaCallback(webhookService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/init/{studentID}/{courseID}", controllers.PaymentInit(paymentService, logg))
			r.Get("/status/{studentID}/{courseID}/{checkoutID}", controllers.PaymentStatus(paymentService, logg))
		})

		r.Get("/students/{studentID}/courses", controllers.StudentCourses(enrollmentService, logg))

		r.Route("/enrollments", func(r chi.Router) {
			r.Get("/{enrollmentID}/receipt", controllers.EnrollmentReceipt(enrollmentService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.MemberRoleMentor, enums.MemberRoleAdmin))
				r.Get("/", controllers.EnrollmentList(enrollmentService, logg))
				r.Post("/{enrollmentID}/approve", controllers.EnrollmentApprove(enrollmentService, logg))
				r.Post("/{enrollmentID}/reject", controllers.EnrollmentReject(enrollmentService, logg))
			})
		})
	})

	return r
}
