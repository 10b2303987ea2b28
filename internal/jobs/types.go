package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeIngestSource pulls new donations of one scheduled source.
	JobTypeIngestSource JobType = "ingest_source"
	// JobTypeImportFile imports a manual CSV file into one source.
	JobTypeImportFile JobType = "import_file"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueClosed = errors.New("queue is closed")
)

// IngestJob is one run of one source.
type IngestJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type JobType `json:"type"`

	// Source is the configured source name.
	Source string `json:"source"`

	// File is the local path or gs:// URI of an import job.
	File string `json:"file,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// WindowStart and WindowEnd are the planned window, unset for imports.
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`

	// Rows is the number of records written.
	Rows int `json:"rows"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// GetType returns the job type, ingest_source when unset.
func (j *IngestJob) GetType() JobType {
	if j.Type == "" {
		return JobTypeIngestSource
	}
	return j.Type
}

// Done reports whether the job reached a final status.
func (j *IngestJob) Done() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// permanentError marks a job failure that a retry cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the queue fails the job without retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked by Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	Publish(ctx context.Context, job *IngestJob) error
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops accepting jobs, finishes the queued ones and waits for them.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. It may record results such as Rows on the job.
// A returned error fails the job, or retries it while retries remain.
type JobHandler func(ctx context.Context, job *IngestJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestJob) error
	GetJob(ctx context.Context, jobID string) (*IngestJob, error)
	// ActiveJob returns the newest unfinished job of jobType for source,
	// or ErrJobNotFound.
	ActiveJob(ctx context.Context, jobType JobType, source string) (*IngestJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Source string
	Type   JobType
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
