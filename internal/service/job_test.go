package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	api "github.com/safemasking/masking-api/api/v1alpha1"
	"github.com/safemasking/masking-api/internal/config"
	"github.com/safemasking/masking-api/internal/events"
	"github.com/safemasking/masking-api/internal/service"
	"github.com/safemasking/masking-api/internal/store"
	"github.com/safemasking/masking-api/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

const (
	owner    = store.DefaultUsername
	stranger = "u2"
)

var _ = Describe("job service", Ordered, func() {
	var (
		s          store.Store
		gormdb     *gorm.DB
		issuer     *fakeIssuer
		wrk        *fakeWorker
		publisher  *fakePublisher
		dispatcher *service.Dispatcher
		srv        *service.JobService
		cfg        *config.Config
	)

	BeforeAll(func() {
		s, gormdb = newTestStore()
		_, err := s.User().Create(context.TODO(), model.User{Username: stranger})
		Expect(err).To(BeNil())
		cfg = config.NewDefault()
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		issuer = &fakeIssuer{}
		wrk = &fakeWorker{}
		publisher = &fakePublisher{}
		dispatcher = service.NewDispatcher(service.DispatcherConfig{
			CallbackURL:    "http://masking-api.test/api/v1/jobs/callback",
			DownloadURLTTL: time.Hour,
			ResultURLTTL:   6 * time.Hour,
			Timeout:        5 * time.Second,
			MaxConcurrent:  2,
		}, wrk, issuer, s, publisher)
		dispatcher.Start()
		srv = service.NewJobService(s, issuer, dispatcher, publisher, cfg.Service.Jobs)
	})

	AfterEach(func() {
		Expect(dispatcher.Stop(context.TODO())).To(Succeed())
		gormdb.Exec("DELETE FROM detections;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	// drain waits for every submitted dispatch to be applied.
	drain := func() {
		Expect(dispatcher.Stop(context.TODO())).To(Succeed())
	}

	newUploadedJob := func(ownerID string) *api.InitUploadResponse {
		resp, err := srv.InitUpload(context.TODO(), ownerID, api.InitUploadRequest{Filename: "a.mp4", ContentType: "video/mp4"})
		Expect(err).To(BeNil())
		return resp
	}

	newProcessingJob := func(ownerID string, opts api.MaskingOptions) uuid.UUID {
		resp := newUploadedJob(ownerID)
		Expect(srv.ProcessJob(context.TODO(), resp.JobId, ownerID, api.ProcessRequest{
			SourceKey:      resp.SourceKey,
			FileSize:       1000,
			MaskingOptions: opts,
		})).To(Succeed())
		drain()
		return resp.JobId
	}

	getJob := func(id uuid.UUID) *model.Job {
		job, err := s.Job().Get(context.TODO(), id, store.NewJobQueryOptions().WithDetections())
		Expect(err).To(BeNil())
		return job
	}

	faceCallback := func(id uuid.UUID) api.CallbackRequest {
		return api.CallbackRequest{
			JobId:            id.String(),
			FrameCount:       ptr(120),
			ProcessingTimeMs: ptr(int64(4500)),
			Detections: []api.CallbackDetection{
				{Label: "face", Confidence: ptr(0.9), Bbox: json.RawMessage(`[10,20,30,40]`), FrameNumber: ptr(3)},
			},
		}
	}

	Context("init upload", func() {
		It("creates an UPLOADED job and an upload url under original/", func() {
			resp := newUploadedJob(owner)

			Expect(resp.JobId).NotTo(Equal(uuid.Nil))
			Expect(resp.SourceKey).To(HavePrefix("original/"))
			Expect(resp.SourceKey).To(HaveSuffix("_a.mp4"))
			Expect(resp.SourceKey).NotTo(ContainSubstring(resp.JobId.String()))
			Expect(resp.UploadUrl).To(ContainSubstring("original/"))
			Expect(resp.ExpiresIn).To(BeNumerically("==", 600))

			job := getJob(resp.JobId)
			Expect(job.Status).To(Equal(model.JobStatusUploaded))
			Expect(job.OwnerID).To(Equal(owner))
			Expect(job.OriginalName).To(Equal("a.mp4"))
			Expect(job.UploadKey).To(Equal(resp.SourceKey))
			Expect(job.SourceKey).To(BeNil())
			Expect(publisher.Kinds(resp.JobId)).To(Equal([]string{events.JobCreatedKind}))
		})

		It("assigns a distinct id and key to every job", func() {
			first := newUploadedJob(owner)
			second := newUploadedJob(owner)
			Expect(first.JobId).NotTo(Equal(second.JobId))
			Expect(first.SourceKey).NotTo(Equal(second.SourceKey))
		})

		It("fails for an unknown owner", func() {
			_, err := srv.InitUpload(context.TODO(), "ghost", api.InitUploadRequest{Filename: "a.mp4", ContentType: "video/mp4"})
			Expect(err).NotTo(BeNil())
			var notFound *service.ErrResourceNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})

		It("rejects a content type that is not allowed", func() {
			_, err := srv.InitUpload(context.TODO(), owner, api.InitUploadRequest{Filename: "a.exe", ContentType: "application/x-msdownload"})
			var validation *service.ErrValidation
			Expect(errors.As(err, &validation)).To(BeTrue())
		})

		It("accepts a content type regardless of case", func() {
			resp, err := srv.InitUpload(context.TODO(), owner, api.InitUploadRequest{Filename: "a.mov", ContentType: " Video/QuickTime "})
			Expect(err).To(BeNil())
			Expect(getJob(resp.JobId).ContentType).To(Equal("video/quicktime"))
		})

		It("keeps no job when the upload url cannot be issued", func() {
			issuer.uploadErr = errBoom
			_, err := srv.InitUpload(context.TODO(), owner, api.InitUploadRequest{Filename: "a.mp4", ContentType: "video/mp4"})
			Expect(err).To(MatchError(errBoom))

			var count int64
			Expect(gormdb.Model(&model.Job{}).Count(&count).Error).To(BeNil())
			Expect(count).To(BeZero())
		})
	})

	Context("process", func() {
		It("moves the job to PROCESSING and dispatches it", func() {
			resp := newUploadedJob(owner)
			err := srv.ProcessJob(context.TODO(), resp.JobId, owner, api.ProcessRequest{
				SourceKey:      resp.SourceKey,
				FileSize:       1000,
				MaskingOptions: api.MaskingOptions{Face: true},
			})
			Expect(err).To(BeNil())
			drain()

			job := getJob(resp.JobId)
			Expect(job.Status).To(Equal(model.JobStatusProcessing))
			Expect(*job.SourceKey).To(Equal(resp.SourceKey))
			Expect(*job.ResultKey).To(Equal("processed/masked_" + resp.JobId.String() + ".mp4"))
			Expect(*job.FileSizeBytes).To(BeNumerically("==", 1000))
			Expect(job.DispatchedAt).NotTo(BeNil())

			requests := wrk.Requests()
			Expect(requests).To(HaveLen(1))
			req := requests[0]
			Expect(req.JobID).To(Equal(resp.JobId.String()))
			Expect(req.DownloadURL).To(ContainSubstring("/get/" + resp.SourceKey))
			Expect(req.UploadURL).To(ContainSubstring("/put/processed/masked_"))
			Expect(req.CallbackURL).To(Equal("http://masking-api.test/api/v1/jobs/callback"))
			Expect(req.MaskingOptions.Face).To(BeTrue())
			Expect(req.MaskingOptions.Blur).To(BeTrue())
			Expect(req.MaskingOptions.Swap).To(BeFalse())

			Expect(publisher.Kinds(resp.JobId)).To(Equal([]string{events.JobCreatedKind, events.JobProcessingKind}))
		})

		It("uses the issued key when no source key is sent", func() {
			resp := newUploadedJob(owner)
			Expect(srv.ProcessJob(context.TODO(), resp.JobId, owner, api.ProcessRequest{FileSize: 10})).To(Succeed())
			drain()
			Expect(*getJob(resp.JobId).SourceKey).To(Equal(resp.SourceKey))
		})

		It("sends the avatar choice as swap", func() {
			newProcessingJob(owner, api.MaskingOptions{Face: true, CustomObject: true, CustomObjectName: "dog", UseAvatar: true})

			req := wrk.Requests()[0]
			Expect(req.MaskingOptions.Swap).To(BeTrue())
			Expect(req.MaskingOptions.Blur).To(BeFalse())
			Expect(req.MaskingOptions.CustomObjectName).To(Equal("dog"))
		})

		// Scenario B
		It("fails the job when the worker cannot be reached", func() {
			wrk.err = errBoom
			resp := newUploadedJob(owner)
			err := srv.ProcessJob(context.TODO(), resp.JobId, owner, api.ProcessRequest{SourceKey: resp.SourceKey, FileSize: 1000, MaskingOptions: api.MaskingOptions{Face: true}})
			Expect(err).To(BeNil())
			drain()

			job := getJob(resp.JobId)
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(*job.FailureReason).To(ContainSubstring("dispatch failed"))
			Expect(*job.FailureReason).To(ContainSubstring("boom"))
			Expect(job.ProcessedAt).NotTo(BeNil())
			Expect(publisher.Kinds(resp.JobId)).To(ContainElement(events.JobFailedKind))

			status, err := srv.GetStatus(context.TODO(), resp.JobId, owner)
			Expect(err).To(BeNil())
			Expect(status.Status).To(Equal(api.JobStatusFailed))
			Expect(status.Message).To(Equal("Processing failed"))
		})

		It("fails the job when no download url can be issued", func() {
			resp := newUploadedJob(owner)
			issuer.downloadErr = errBoom
			Expect(srv.ProcessJob(context.TODO(), resp.JobId, owner, api.ProcessRequest{FileSize: 1})).To(Succeed())
			drain()

			Expect(getJob(resp.JobId).Status).To(Equal(model.JobStatusFailed))
			Expect(wrk.Requests()).To(BeEmpty())
		})

		It("fails the job when the dispatcher is stopped", func() {
			resp := newUploadedJob(owner)
			drain()

			Expect(srv.ProcessJob(context.TODO(), resp.JobId, owner, api.ProcessRequest{FileSize: 1})).To(Succeed())
			job := getJob(resp.JobId)
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(*job.FailureReason).To(ContainSubstring(service.ErrDispatcherStopped.Error()))
		})

		It("refuses to process a job twice", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})

			err := srv.ProcessJob(context.TODO(), id, owner, api.ProcessRequest{FileSize: 1})
			var invalid *service.ErrJobInvalidState
			Expect(errors.As(err, &invalid)).To(BeTrue())
			Expect(wrk.Requests()).To(HaveLen(1))
		})

		It("rejects a source key that was not issued for the job", func() {
			resp := newUploadedJob(owner)
			err := srv.ProcessJob(context.TODO(), resp.JobId, owner, api.ProcessRequest{SourceKey: "original/other.mp4", FileSize: 1})
			var validation *service.ErrValidation
			Expect(errors.As(err, &validation)).To(BeTrue())
			Expect(getJob(resp.JobId).Status).To(Equal(model.JobStatusUploaded))
		})

		It("rejects malformed masking options", func() {
			resp := newUploadedJob(owner)
			err := srv.ProcessJob(context.TODO(), resp.JobId, owner, api.ProcessRequest{FileSize: 1, MaskingOptions: api.MaskingOptions{CustomObject: true}})
			var validation *service.ErrValidation
			Expect(errors.As(err, &validation)).To(BeTrue())

			err = srv.ProcessJob(context.TODO(), resp.JobId, owner, api.ProcessRequest{FileSize: -1})
			Expect(errors.As(err, &validation)).To(BeTrue())
		})

		It("fails for an unknown job", func() {
			err := srv.ProcessJob(context.TODO(), uuid.New(), owner, api.ProcessRequest{FileSize: 1})
			var notFound *service.ErrResourceNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})

		It("forbids processing another owner's job", func() {
			resp := newUploadedJob(owner)
			err := srv.ProcessJob(context.TODO(), resp.JobId, stranger, api.ProcessRequest{FileSize: 1})
			var forbidden *service.ErrJobAccessForbidden
			Expect(errors.As(err, &forbidden)).To(BeTrue())
		})
	})

	Context("callback", func() {
		// Scenario C
		It("completes a PROCESSING job with its detections", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})

			Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())

			job := getJob(id)
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(*job.FrameCount).To(Equal(120))
			Expect(*job.ProcessingTimeMs).To(BeNumerically("==", 4500))
			Expect(job.ProcessedAt).NotTo(BeNil())
			Expect(job.Detections).To(HaveLen(1))
			Expect(job.Detections[0].ObjectType).To(Equal(model.ObjectTypeFace))
			Expect(job.Detections[0].MaskingApplied).To(BeTrue())
			Expect(job.Detections[0].BoundingBox).To(Equal("[10,20,30,40]"))
			Expect(publisher.Kinds(id)).To(HaveLen(3))
			Expect(publisher.Kinds(id)[2]).To(Equal(events.JobCompletedKind))
		})

		It("stores every reported detection", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})

			req := faceCallback(id)
			for i := 0; i < 250; i++ {
				req.Detections = append(req.Detections, api.CallbackDetection{Label: "license plate", Confidence: ptr(0.5), Bbox: json.RawMessage(`[1,2,3,4]`), FrameNumber: ptr(i)})
			}
			Expect(srv.HandleCallback(context.TODO(), req)).To(Succeed())

			Expect(getJob(id).Detections).To(HaveLen(251))
		})

		It("drops a detection with a malformed bounding box and keeps the rest", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})

			req := faceCallback(id)
			req.Detections = append(req.Detections, api.CallbackDetection{Label: "face", Confidence: ptr(0.4), Bbox: json.RawMessage(`[1,2,3]`)})
			Expect(srv.HandleCallback(context.TODO(), req)).To(Succeed())

			job := getJob(id)
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.Detections).To(HaveLen(1))
		})

		It("never takes the result location from the worker", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})
			before := *getJob(id).ResultKey

			req := faceCallback(id)
			req.MaskedUrl = "https://evil.test/elsewhere.mp4"
			Expect(srv.HandleCallback(context.TODO(), req)).To(Succeed())

			Expect(*getJob(id).ResultKey).To(Equal(before))
		})

		It("stores the unique object counts reported by the worker", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})

			req := faceCallback(id)
			req.Statistics = &api.CallbackStatistics{TotalUniqueObjects: ptr(2), FaceCount: ptr(2)}
			Expect(srv.HandleCallback(context.TODO(), req)).To(Succeed())

			job := getJob(id)
			Expect(*job.TotalUniqueObjects).To(Equal(2))
			Expect(*job.UniqueFaceCount).To(Equal(2))
		})

		// Scenario D
		It("ignores a second callback for a completed job", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})
			Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())

			replay := faceCallback(id)
			replay.FrameCount = ptr(999)
			replay.Detections = append(replay.Detections, replay.Detections[0])
			Expect(srv.HandleCallback(context.TODO(), replay)).To(Succeed())

			job := getJob(id)
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(*job.FrameCount).To(Equal(120))
			Expect(job.Detections).To(HaveLen(1))
		})

		It("ignores a callback for a failed job", func() {
			wrk.err = errBoom
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})

			Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())

			job := getJob(id)
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.Detections).To(BeEmpty())
		})

		It("ignores a callback for a job that was never dispatched", func() {
			resp := newUploadedJob(owner)
			Expect(srv.HandleCallback(context.TODO(), faceCallback(resp.JobId))).To(Succeed())

			job := getJob(resp.JobId)
			Expect(job.Status).To(Equal(model.JobStatusUploaded))
			Expect(job.Detections).To(BeEmpty())
		})

		It("drops a callback for an unknown job without creating it", func() {
			id := uuid.New()
			Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())

			_, err := s.Job().Get(context.TODO(), id, nil)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("applies exactly one of many concurrent callbacks", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true, LicensePlate: true})

			const callers = 8
			errs := make(chan error, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					req := faceCallback(id)
					req.FrameCount = ptr(100 + i)
					req.Detections = append(req.Detections,
						api.CallbackDetection{Label: "license plate", Confidence: ptr(0.6), Bbox: json.RawMessage(`[1,2,3,4]`)},
						api.CallbackDetection{Label: "face", Confidence: ptr(0.7), Bbox: json.RawMessage(`[5,6,7,8]`)},
					)
					errs <- srv.HandleCallback(context.TODO(), req)
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				Expect(err).To(BeNil())
			}
			job := getJob(id)
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.Detections).To(HaveLen(3))
			Expect(publisher.Kinds(id)).To(HaveLen(3))
		})

		It("drops a callback with a malformed job id", func() {
			Expect(srv.HandleCallback(context.TODO(), api.CallbackRequest{JobId: "not-a-uuid"})).To(Succeed())
		})
	})

	Context("status and result", func() {
		It("derives the status message from the status", func() {
			resp := newUploadedJob(owner)
			status, err := srv.GetStatus(context.TODO(), resp.JobId, owner)
			Expect(err).To(BeNil())
			Expect(status.JobId).To(Equal(resp.JobId))
			Expect(status.Status).To(Equal(api.JobStatusUploaded))
			Expect(status.Message).To(Equal("Upload complete"))
		})

		It("assembles the result with fresh urls and statistics", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true, LicensePlate: true, CustomObject: true, CustomObjectName: "dog"})
			req := faceCallback(id)
			req.Detections = append(req.Detections,
				api.CallbackDetection{Label: "License Plate", Confidence: ptr(0.5), Bbox: json.RawMessage(`[1.4,2.6,3,4]`)},
				api.CallbackDetection{Label: "dog", Confidence: ptr(0.7), Bbox: json.RawMessage(`[5,6,7,8]`)},
			)
			Expect(srv.HandleCallback(context.TODO(), req)).To(Succeed())

			result, err := srv.GetResult(context.TODO(), id, owner)
			Expect(err).To(BeNil())
			Expect(result.Status).To(Equal(api.JobStatusCompleted))
			Expect(result.OriginalDownloadUrl).NotTo(BeNil())
			Expect(*result.OriginalDownloadUrl).To(ContainSubstring("/get/original/"))
			Expect(result.ProcessedDownloadUrl).NotTo(BeNil())
			Expect(*result.ProcessedDownloadUrl).To(ContainSubstring("/get/processed/masked_" + id.String()))

			Expect(result.Detections).To(HaveLen(3))
			Expect(result.Detections[1].Bbox).To(Equal([4]int{1, 3, 3, 4}))
			Expect(result.Detections[2].ObjectType).To(Equal(string(model.ObjectTypeCustomObject)))

			stats := result.Statistics
			Expect(stats.TotalDetections).To(Equal(3))
			Expect(stats.FaceCount).To(Equal(1))
			Expect(stats.LicensePlateCount).To(Equal(1))
			Expect(stats.CustomObjectCount).To(Equal(1))
			Expect(stats.FaceCount + stats.LicensePlateCount + stats.CustomObjectCount).To(Equal(stats.TotalDetections))
			Expect(stats.AverageConfidence).To(BeNumerically("~", 0.7, 1e-9))

			// a second read signs new urls
			downloads := len(issuer.downloads)
			_, err = srv.GetResult(context.TODO(), id, owner)
			Expect(err).To(BeNil())
			Expect(len(issuer.downloads)).To(Equal(downloads + 2))
		})

		It("reports zero statistics for a job without detections", func() {
			resp := newUploadedJob(owner)
			result, err := srv.GetResult(context.TODO(), resp.JobId, owner)
			Expect(err).To(BeNil())
			Expect(result.Detections).To(BeEmpty())
			Expect(result.Statistics.TotalDetections).To(BeZero())
			Expect(result.Statistics.AverageConfidence).To(BeZero())
			Expect(result.ProcessedDownloadUrl).To(BeNil())
		})

		It("does not sign the processed url before completion", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})
			result, err := srv.GetResult(context.TODO(), id, owner)
			Expect(err).To(BeNil())
			Expect(result.OriginalDownloadUrl).NotTo(BeNil())
			Expect(result.ProcessedDownloadUrl).To(BeNil())
		})

		It("returns the result even when urls cannot be signed", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})
			Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())

			issuer.downloadErr = errBoom
			result, err := srv.GetResult(context.TODO(), id, owner)
			Expect(err).To(BeNil())
			Expect(result.OriginalDownloadUrl).To(BeNil())
			Expect(result.Detections).To(HaveLen(1))
		})

		It("skips a stored detection whose bounding box is corrupt", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})
			Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())
			Expect(gormdb.Exec("UPDATE detections SET bounding_box = 'garbage' WHERE job_id = ?", id).Error).To(BeNil())

			result, err := srv.GetResult(context.TODO(), id, owner)
			Expect(err).To(BeNil())
			Expect(result.Status).To(Equal(api.JobStatusCompleted))
			Expect(result.Detections).To(BeEmpty())
		})

		It("lists only the caller's jobs, newest first", func() {
			older := newUploadedJob(owner)
			newer := newUploadedJob(owner)
			newUploadedJob(stranger)

			now := time.Now().UTC()
			Expect(gormdb.Exec("UPDATE jobs SET created_at = ? WHERE id = ?", now.Add(-time.Hour), older.JobId).Error).To(BeNil())
			Expect(gormdb.Exec("UPDATE jobs SET created_at = ? WHERE id = ?", now, newer.JobId).Error).To(BeNil())

			results, err := srv.ListJobs(context.TODO(), owner)
			Expect(err).To(BeNil())
			Expect(results).To(HaveLen(2))
			Expect(results[0].JobId).To(Equal(newer.JobId))
			Expect(results[1].JobId).To(Equal(older.JobId))

			results, err = srv.ListJobs(context.TODO(), "nobody")
			Expect(err).To(BeNil())
			Expect(results).To(BeEmpty())
		})

		It("fails for an unknown job", func() {
			_, err := srv.GetStatus(context.TODO(), uuid.New(), owner)
			var notFound *service.ErrResourceNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})
	})

	Context("ownership", func() {
		// Scenario E
		DescribeTable("forbids a stranger in every state",
			func(prepare func() uuid.UUID) {
				id := prepare()
				var forbidden *service.ErrJobAccessForbidden

				_, err := srv.GetStatus(context.TODO(), id, stranger)
				Expect(errors.As(err, &forbidden)).To(BeTrue())

				_, err = srv.GetResult(context.TODO(), id, stranger)
				Expect(errors.As(err, &forbidden)).To(BeTrue())

				err = srv.DeleteJob(context.TODO(), id, stranger)
				Expect(errors.As(err, &forbidden)).To(BeTrue())

				_, err = s.Job().Get(context.TODO(), id, nil)
				Expect(err).To(BeNil())
				Expect(issuer.Deleted()).To(BeEmpty())
			},
			Entry("uploaded", func() uuid.UUID { return newUploadedJob(owner).JobId }),
			Entry("processing", func() uuid.UUID { return newProcessingJob(owner, api.MaskingOptions{Face: true}) }),
			Entry("completed", func() uuid.UUID {
				id := newProcessingJob(owner, api.MaskingOptions{Face: true})
				Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())
				return id
			}),
			Entry("failed", func() uuid.UUID {
				wrk.err = errBoom
				return newProcessingJob(owner, api.MaskingOptions{Face: true})
			}),
		)
	})

	Context("delete", func() {
		It("removes the objects and the job", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})
			Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())
			job := getJob(id)

			Expect(srv.DeleteJob(context.TODO(), id, owner)).To(Succeed())

			deleted := issuer.Deleted()
			Expect(deleted).To(ConsistOf(*job.SourceKey, *job.ResultKey))
			Expect(containsKey(deleted, "processed/")).To(BeTrue())

			_, err := s.Job().Get(context.TODO(), id, nil)
			Expect(err).To(MatchError(store.ErrRecordNotFound))

			var count int64
			Expect(gormdb.Model(&model.Detection{}).Where("job_id = ?", id).Count(&count).Error).To(BeNil())
			Expect(count).To(BeZero())
			Expect(publisher.Kinds(id)).To(ContainElement(events.JobDeletedKind))
		})

		It("removes the upload of a job that was never processed", func() {
			resp := newUploadedJob(owner)
			Expect(srv.DeleteJob(context.TODO(), resp.JobId, owner)).To(Succeed())
			Expect(issuer.Deleted()).To(Equal([]string{resp.SourceKey}))
		})

		It("keeps the job when an object cannot be deleted", func() {
			resp := newUploadedJob(owner)
			issuer.deleteErr = errBoom

			Expect(srv.DeleteJob(context.TODO(), resp.JobId, owner)).To(MatchError(errBoom))
			_, err := s.Job().Get(context.TODO(), resp.JobId, nil)
			Expect(err).To(BeNil())
		})

		It("turns a callback after delete into a no-op", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})
			Expect(srv.DeleteJob(context.TODO(), id, owner)).To(Succeed())

			Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())
			_, err := s.Job().Get(context.TODO(), id, nil)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("leaves nothing behind when a delete races a callback", func() {
			for i := 0; i < 5; i++ {
				resp := newUploadedJob(owner)
				id := resp.JobId
				_, err := s.Job().MarkProcessing(context.TODO(), id, model.DispatchUpdate{
					SourceKey:     resp.SourceKey,
					ResultKey:     "processed/masked_" + id.String() + ".mp4",
					FileSizeBytes: 1,
					DispatchedAt:  time.Now(),
				})
				Expect(err).To(BeNil())

				var wg sync.WaitGroup
				var deleteErr, callbackErr error
				wg.Add(2)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					deleteErr = srv.DeleteJob(context.TODO(), id, owner)
				}()
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					callbackErr = srv.HandleCallback(context.TODO(), faceCallback(id))
				}()
				wg.Wait()

				Expect(deleteErr).To(BeNil())
				Expect(callbackErr).To(BeNil())

				_, err = s.Job().Get(context.TODO(), id, nil)
				Expect(err).To(MatchError(store.ErrRecordNotFound))
				var count int64
				Expect(gormdb.Model(&model.Detection{}).Where("job_id = ?", id).Count(&count).Error).To(BeNil())
				Expect(count).To(BeZero())
			}
		})

		It("survives a dispatch failure for a deleted job", func() {
			wrk.err = errBoom
			resp := newUploadedJob(owner)
			Expect(srv.ProcessJob(context.TODO(), resp.JobId, owner, api.ProcessRequest{FileSize: 1})).To(Succeed())
			Expect(srv.DeleteJob(context.TODO(), resp.JobId, owner)).To(Succeed())
			drain()

			_, err := s.Job().Get(context.TODO(), resp.JobId, nil)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("counts", func() {
		It("counts jobs by status", func() {
			newUploadedJob(owner)
			newUploadedJob(owner)
			newProcessingJob(owner, api.MaskingOptions{Face: true})

			counts, err := srv.CountJobsByStatus(context.TODO())
			Expect(err).To(BeNil())
			Expect(counts[string(model.JobStatusUploaded)]).To(BeNumerically("==", 2))
			Expect(counts[string(model.JobStatusProcessing)]).To(BeNumerically("==", 1))
			Expect(counts).NotTo(HaveKey(string(model.JobStatusCompleted)))
		})
	})

	Context("status never moves backwards", func() {
		It("keeps a completed job completed whatever happens next", func() {
			id := newProcessingJob(owner, api.MaskingOptions{Face: true})
			Expect(srv.HandleCallback(context.TODO(), faceCallback(id))).To(Succeed())

			err := srv.ProcessJob(context.TODO(), id, owner, api.ProcessRequest{FileSize: 1})
			Expect(err).NotTo(BeNil())
			Expect(strings.Contains(err.Error(), "COMPLETED")).To(BeTrue())

			_, err = s.Job().MarkFailed(context.TODO(), id, "late", time.Now())
			Expect(err).To(MatchError(store.ErrInvalidTransition))
			Expect(getJob(id).Status).To(Equal(model.JobStatusCompleted))
		})
	})
})
