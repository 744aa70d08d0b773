package v1alpha1

import (
	"net/http"
	"strings"

	api "github.com/safemasking/masking-api/api/v1alpha1"
	"github.com/safemasking/masking-api/internal/auth"
	"github.com/safemasking/masking-api/pkg/log"
)

// (POST /api/v1/jobs/init-upload)
func (h *ServiceHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.NewDebugLogger("job_handler").WithContext(ctx).Operation("init_upload").Build()

	user := auth.MustHaveUser(ctx)

	var form api.InitUploadRequest
	if err := decode(r, &form); err != nil {
		writeError(w, r, err, "init upload")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		writeError(w, r, err, "init upload")
		return
	}

	resp, err := h.jobSrv.InitUpload(ctx, user.Username, form)
	if err != nil {
		logger.Error(err).Log()
		writeError(w, r, err, "init upload")
		return
	}

	logger.Success().WithUUID("job_id", resp.JobId).Log()
	writeJSON(w, r, http.StatusOK, resp)
}

// (POST /api/v1/jobs/{id}/process)
func (h *ServiceHandler) ProcessJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.NewDebugLogger("job_handler").WithContext(ctx).Operation("process_job").Build()

	user := auth.MustHaveUser(ctx)

	id, err := jobIDParam(r)
	if err != nil {
		writeError(w, r, err, "process job")
		return
	}

	var form api.ProcessRequest
	if err := decode(r, &form); err != nil {
		writeError(w, r, err, "process job")
		return
	}
	// a stranger learns nothing about the job from the validation of the body
	if _, err := h.jobSrv.GetStatus(ctx, id, user.Username); err != nil {
		writeError(w, r, err, "process job")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		writeError(w, r, err, "process job")
		return
	}

	if err := h.jobSrv.ProcessJob(ctx, id, user.Username, form); err != nil {
		logger.Error(err).WithUUID("job_id", id).Log()
		writeError(w, r, err, "process job")
		return
	}

	logger.Success().WithUUID("job_id", id).Log()
	w.WriteHeader(http.StatusAccepted)
}

// (POST /api/v1/jobs/callback)
// The worker gets a 200 for anything it can be understood to have sent, even
// if the callback was not applied, so that it never retries.
func (h *ServiceHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.NewDebugLogger("job_handler").WithContext(ctx).Operation("handle_callback").Build()

	var form api.CallbackRequest
	if err := decode(r, &form); err != nil {
		writeError(w, r, err, "handle callback")
		return
	}
	if strings.TrimSpace(form.JobId) == "" {
		writeMessage(w, r, http.StatusBadRequest, "jobId is required")
		return
	}

	if err := h.jobSrv.HandleCallback(ctx, form); err != nil {
		logger.Error(err).WithString("job_id", form.JobId).Log()
	}

	writeJSON(w, r, http.StatusOK, api.Status{Message: "callback received"})
}

// (GET /api/v1/jobs/{id}/status)
func (h *ServiceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.MustHaveUser(ctx)

	id, err := jobIDParam(r)
	if err != nil {
		writeError(w, r, err, "get job status")
		return
	}

	status, err := h.jobSrv.GetStatus(ctx, id, user.Username)
	if err != nil {
		writeError(w, r, err, "get job status")
		return
	}

	writeJSON(w, r, http.StatusOK, status)
}

// (GET /api/v1/jobs/{id})
func (h *ServiceHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.NewDebugLogger("job_handler").WithContext(ctx).Operation("get_result").Build()

	user := auth.MustHaveUser(ctx)

	id, err := jobIDParam(r)
	if err != nil {
		writeError(w, r, err, "get job result")
		return
	}

	result, err := h.jobSrv.GetResult(ctx, id, user.Username)
	if err != nil {
		logger.Error(err).WithUUID("job_id", id).Log()
		writeError(w, r, err, "get job result")
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// (GET /api/v1/jobs)
func (h *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.MustHaveUser(ctx)

	results, err := h.jobSrv.ListJobs(ctx, user.Username)
	if err != nil {
		writeError(w, r, err, "list jobs")
		return
	}

	writeJSON(w, r, http.StatusOK, results)
}

// (DELETE /api/v1/jobs/{id})
func (h *ServiceHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.NewDebugLogger("job_handler").WithContext(ctx).Operation("delete_job").Build()

	user := auth.MustHaveUser(ctx)

	id, err := jobIDParam(r)
	if err != nil {
		writeError(w, r, err, "delete job")
		return
	}

	if err := h.jobSrv.DeleteJob(ctx, id, user.Username); err != nil {
		logger.Error(err).WithUUID("job_id", id).Log()
		writeError(w, r, err, "delete job")
		return
	}

	logger.Success().WithUUID("job_id", id).Log()
	writeJSON(w, r, http.StatusOK, api.Status{Message: "job deleted"})
}
