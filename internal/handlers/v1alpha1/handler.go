package v1alpha1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	api "github.com/safemasking/masking-api/api/v1alpha1"
	"github.com/safemasking/masking-api/internal/auth"
	"github.com/safemasking/masking-api/internal/handlers/validator"
	"github.com/safemasking/masking-api/internal/service"
	"github.com/safemasking/masking-api/pkg/middleware"
)

type ServiceHandler struct {
	jobSrv    *service.JobService
	validator *validator.Validator
}

func NewServiceHandler(jobService *service.JobService) *ServiceHandler {
	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules()...)
	v.RegisterStructValidation(validator.MaskingOptionsValidator(), api.MaskingOptions{})

	return &ServiceHandler{
		jobSrv:    jobService,
		validator: v,
	}
}

// Mount registers the API routes on r. Owner routes run behind authn; the
// worker callback and the health check do not.
func (h *ServiceHandler) Mount(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/callback", h.HandleCallback)

		r.Group(func(r chi.Router) {
			r.Use(authn, middleware.RecordCaller(auth.UsernameFromContext))
			r.Post("/init-upload", h.InitUpload)
			r.Get("/", h.ListJobs)
			r.Get("/{id}", h.GetResult)
			r.Delete("/{id}", h.DeleteJob)
			r.Get("/{id}/status", h.GetStatus)
			r.Post("/{id}/process", h.ProcessJob)
		})
	})
}

// (GET /health)
func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, api.Status{Message: "ok"})
}
