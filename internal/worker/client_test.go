package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/safemasking/masking-api/internal/worker"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("worker client", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	request := worker.ProcessRequest{
		DownloadURL: "http://storage/original/abc_clip.mp4?sig=1",
		UploadURL:   "http://storage/processed/masked_abc.mp4?sig=2",
		JobID:       "abc",
		CallbackURL: "http://api/api/v1/jobs/callback",
		MaskingOptions: worker.MaskingOptions{
			Face:             true,
			CustomObject:     true,
			CustomObjectName: "dog",
			Blur:             false,
			Swap:             true,
		},
	}

	Describe("Dispatch", func() {
		It("posts the job in the worker wire format", func() {
			var (
				method      string
				path        string
				contentType string
				payload     map[string]any
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				method = r.Method
				path = r.URL.Path
				contentType = r.Header.Get("Content-Type")
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &payload)
				w.WriteHeader(http.StatusAccepted)
			}))
			defer server.Close()

			c := worker.NewHTTPClient(server.URL+"/", 5*time.Second)
			Expect(c.Dispatch(ctx, request)).To(Succeed())

			Expect(method).To(Equal(http.MethodPost))
			Expect(path).To(Equal("/process"))
			Expect(contentType).To(Equal("application/json"))
			Expect(payload).To(HaveKeyWithValue("jobId", "abc"))
			Expect(payload).To(HaveKeyWithValue("downloadUrl", request.DownloadURL))
			Expect(payload).To(HaveKeyWithValue("uploadUrl", request.UploadURL))
			Expect(payload).To(HaveKeyWithValue("callbackUrl", request.CallbackURL))

			options, ok := payload["maskingOptions"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(options).To(HaveKeyWithValue("face", true))
			Expect(options).To(HaveKeyWithValue("licensePlate", false))
			Expect(options).To(HaveKeyWithValue("customObject", true))
			Expect(options).To(HaveKeyWithValue("customObjectName", "dog"))
			Expect(options).To(HaveKeyWithValue("maskingOption_blur", false))
			Expect(options).To(HaveKeyWithValue("maskingOption_swap", true))
		})

		It("fails on a non 2xx answer", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("queue full"))
			}))
			defer server.Close()

			c := worker.NewHTTPClient(server.URL, 5*time.Second)
			err := c.Dispatch(ctx, request)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("503"))
			Expect(err.Error()).To(ContainSubstring("queue full"))
		})

		It("fails when the worker is unreachable", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			url := server.URL
			server.Close()

			c := worker.NewHTTPClient(url, time.Second)
			Expect(c.Dispatch(ctx, request)).NotTo(Succeed())
		})

		It("gives up after the timeout", func() {
			release := make(chan struct{})
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			}))
			defer server.Close()
			defer close(release)

			c := worker.NewHTTPClient(server.URL, 100*time.Millisecond)
			Expect(c.Dispatch(ctx, request)).NotTo(Succeed())
		})
	})

	Describe("HealthCheck", func() {
		It("reports a healthy worker", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			Expect(worker.NewHTTPClient(server.URL, 0).HealthCheck(ctx)).To(Succeed())
		})

		It("reports an unhealthy worker", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer server.Close()

			Expect(worker.NewHTTPClient(server.URL, 0).HealthCheck(ctx)).NotTo(Succeed())
		})
	})
})
