package api

import "github.com/codeready-toolchain/conveyor/pkg/models"

// CreateJobResponse is returned by POST /jobs.
type CreateJobResponse struct {
	ID     string        `json:"id"`
	Status models.Status `json:"status"`
}

// ClaimResponse wraps the claimed job; Job is null when nothing matched.
type ClaimResponse struct {
	Job *models.Job `json:"job"`
}

// TerminalResponse is returned by the result and fail endpoints.
type TerminalResponse struct {
	OK     bool          `json:"ok"`
	Status models.Status `json:"status"`
	Note   string        `json:"note,omitempty"`
}

// ErrorResponse carries an error detail, FastAPI-style.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
