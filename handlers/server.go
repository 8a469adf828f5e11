package handlers

import (
	"net/http"
	"time"

	"courseplatform.app/api/internal/access"
	"courseplatform.app/api/internal/auth"
	"courseplatform.app/api/internal/billing"
	"courseplatform.app/api/internal/courses"
	"courseplatform.app/api/internal/license"
	"courseplatform.app/api/internal/metrics"
	"courseplatform.app/api/internal/ratelimit"
	"courseplatform.app/api/internal/session"
	"courseplatform.app/api/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
)

// Dependencies are the services the HTTP layer routes to.
type Dependencies struct {
	Storage  storage.Storage
	Auth     *auth.Service
	Sessions *session.Manager
	Licenses *license.Service
	Courses  *courses.Service
	Gate     *access.Gate
	Prices   *billing.Prices
	Webhooks *billing.Ledger

	WebhookSecret  string
	AdminToken     string
	AllowedOrigins []string
	Version        string

	// Limiter throttles login, signup, PIN reset and key activation per client.
	Limiter ratelimit.RateLimit
}

type Server struct {
	Router chi.Router
	Dependencies

	validate *validator.Validate
}

func NewHttpServer(deps Dependencies) *Server {
	s := &Server{
		Router:       chi.NewRouter(),
		Dependencies: deps,
		validate:     newValidator(),
	}
	if s.Limiter == nil {
		s.Limiter = ratelimit.New(10, 10*time.Minute)
	}
	if s.Webhooks != nil && s.Webhooks.OnDeadLetter == nil {
		s.Webhooks.OnDeadLetter = reportDeadLetter
	}

	r := s.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", s.Health)
	r.Handle("/metrics", metrics.Handler())

	limited := ratelimit.Middleware(s.Limiter, ratelimit.ClientIP, retryAfter(s.Limiter), http.HandlerFunc(tooManyRequests))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Get("/licenses/catalog", s.LicenseCatalog)
		r.Get("/courses", s.ListCourses)
		r.Post("/webhooks/stripe", s.Stripe)

		r.Group(func(r chi.Router) {
			r.Use(limited)
			r.Post("/auth/signup", s.Signup)
			r.Post("/auth/login", s.Login)
			r.Post("/auth/reset-pin", s.ResetPIN)
		})

		// Course pages answer anonymous callers with a login-required decision.
		r.Group(func(r chi.Router) {
			r.Use(s.optionalSession)
			r.Get("/courses/{courseID}", s.GetCourse)
			r.Get("/courses/{courseID}/sections/{section}", s.GetSection)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/auth/session", s.CurrentSession)

			r.Post("/licenses/purchase", s.PurchaseLicense)
			r.With(limited).Post("/licenses/activate", s.ActivateLicense)
			r.Post("/licenses/leave", s.LeaveLicense)
			r.Delete("/licenses/{licenseID}/users/{userID}", s.RemoveLicenseMember)
			r.Get("/licenses/check", s.CheckLicense)
			r.Get("/licenses/users", s.ListLicenseUsers)

			r.Get("/enrollments", s.ListEnrollments)
			r.Post("/courses/{courseID}/enroll", s.EnrollCourse)
			r.Get("/courses/{courseID}/progress", s.CourseProgress)
			r.Put("/courses/{courseID}/sections/{section}/complete", s.CompleteSection)
			r.Delete("/courses/{courseID}/sections/{section}/complete", s.UncompleteSection)
			r.Post("/courses/{courseID}/quizzes/{quizType}", s.SubmitQuiz)
			r.Get("/courses/{courseID}/quizzes", s.QuizScores)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/admin/licenses/{licenseID}/status", s.SetLicenseStatus)
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	version := s.Version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Version: version, Timestamp: time.Now().UTC()})
}

func retryAfter(rl ratelimit.RateLimit) time.Duration {
	if fw, ok := rl.(*ratelimit.FixedWindowLimiter); ok {
		return fw.Window()
	}
	return 0
}
