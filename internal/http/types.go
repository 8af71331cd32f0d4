package http

import (
	"time"

	"bricksmith/internal/model"
)

// ErrorResponse is the generic error envelope shared by handlers.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GenerateRequest is the POST /v1/generate body.
type GenerateRequest struct {
	SourceImageURL string `json:"sourceImageUrl"`
	Title          string `json:"title,omitempty"`
	Age            string `json:"age,omitempty"`
	Budget         int    `json:"budget,omitempty"`
	Language       string `json:"language,omitempty"`
}

// GenerateResponse acknowledges an accepted generation request.
type GenerateResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	JobID   string `json:"jobId,omitempty"`
	Status  string `json:"status,omitempty"`
}

// JobItem is the list view of a job.
type JobItem struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage"`
	Title     string    `json:"title,omitempty"`
	Level     string    `json:"level,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobDetailItem is the detail view of a job, including outputs.
type JobDetailItem struct {
	ID                 string            `json:"id"`
	OwnerID            string            `json:"ownerId,omitempty"`
	Status             string            `json:"status"`
	Stage              string            `json:"stage"`
	RequestedFromStage string            `json:"requestedFromStage,omitempty"`
	Title              string            `json:"title,omitempty"`
	Level              string            `json:"level,omitempty"`
	Language           string            `json:"language,omitempty"`
	Budget             int               `json:"budget,omitempty"`
	SourceImageURL     string            `json:"sourceImageUrl,omitempty"`
	ResultRefs         map[string]string `json:"resultRefs,omitempty"`
	SuggestedTags      []string          `json:"suggestedTags,omitempty"`
	Usage              *model.Usage      `json:"usage,omitempty"`
	Error              string            `json:"error,omitempty"`
	Deleted            bool              `json:"deleted,omitempty"`
	Reported           bool              `json:"reported,omitempty"`
	StageUpdatedAt     time.Time         `json:"stageUpdatedAt"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// ListJobsResponse wraps a job listing.
type ListJobsResponse struct {
	Success bool      `json:"success"`
	Code    string    `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`
	Jobs    []JobItem `json:"jobs,omitempty"`
}

// JobDetailResponse wraps a single job view.
type JobDetailResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Job     *JobDetailItem `json:"job,omitempty"`
}

func toJobItem(j model.Job) JobItem {
	return JobItem{
		ID:        j.ID.String(),
		Status:    string(j.Status),
		Stage:     string(j.Stage),
		Title:     j.Title,
		Level:     j.Level,
		Error:     j.ErrorMessage,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func toJobDetail(j model.Job, includeOwner bool) *JobDetailItem {
	d := &JobDetailItem{
		ID:             j.ID.String(),
		Status:         string(j.Status),
		Stage:          string(j.Stage),
		Title:          j.Title,
		Level:          j.Level,
		Language:       j.Language,
		Budget:         j.Budget,
		SourceImageURL: j.SourceImageURL,
		ResultRefs:     j.ResultRefs,
		SuggestedTags:  j.SuggestedTags,
		Usage:          j.Usage,
		Error:          j.ErrorMessage,
		Deleted:        j.Deleted,
		Reported:       j.Reported,
		StageUpdatedAt: j.StageUpdatedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if j.RequestedFromStage != nil {
		d.RequestedFromStage = string(*j.RequestedFromStage)
	}
	if includeOwner {
		d.OwnerID = j.OwnerID
	}
	return d
}
