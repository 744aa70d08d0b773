package v1alpha1

func StringToJobStatus(s string) JobStatus {
	switch s {
	case string(JobStatusUploaded):
		return JobStatusUploaded
	case string(JobStatusProcessing):
		return JobStatusProcessing
	case string(JobStatusCompleted):
		return JobStatusCompleted
	case string(JobStatusFailed):
		return JobStatusFailed
	default:
		return JobStatusFailed
	}
}
