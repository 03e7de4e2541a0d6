package server

import (
	"errors"
	"net/http"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/flow"
	"github.com/book-expert/fileconv-service/internal/panel"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

var (
	errMissingUpload = errors.New("no file uploaded")
	errInvalidForm   = errors.New("invalid form value")
)

// Alerts shown to browsers for request errors the flows do not alert on.
const (
	MsgBusy          = "Please wait for the current conversion to finish."
	MsgInvalidValue  = "Please enter a valid quality value."
	MsgMissingUpload = "Please choose a file to upload."
	MsgUnknownPanel  = "That panel does not exist."
	MsgServerError   = "Something went wrong. Please try again."
)

var (
	errUnknownArtifact = APIError{Code: "not_found", Error: "Unknown artifact"}
	errReadArtifact    = APIError{Code: "artifact_error", Error: "Error reading artifact"}
)

// statusFor maps an operation error to an HTTP status and an error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, flow.ErrNoImageSelected),
		errors.Is(err, flow.ErrNoImagesSelected),
		errors.Is(err, flow.ErrNoDocumentSelected):
		return http.StatusUnprocessableEntity, "missing_input"
	case errors.Is(err, flow.ErrConversionFailed):
		return http.StatusInternalServerError, "conversion_failed"
	case errors.Is(err, flow.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, flow.ErrQualityOutOfRange), errors.Is(err, errInvalidForm):
		return http.StatusBadRequest, "invalid_value"
	case errors.Is(err, errMissingUpload):
		return http.StatusBadRequest, "missing_upload"
	case errors.Is(err, panel.ErrUnknownPanel), errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "conversion_failed"
	}
}

// alertFor returns the alert a browser sees for err, or "" when the flow has
// already alerted or the failure is log-only.
func alertFor(err error, status int) string {
	switch {
	case errors.Is(err, flow.ErrNoImageSelected),
		errors.Is(err, flow.ErrNoImagesSelected),
		errors.Is(err, flow.ErrNoDocumentSelected),
		errors.Is(err, flow.ErrConversionFailed):
		return ""
	case errors.Is(err, flow.ErrBusy):
		return MsgBusy
	case errors.Is(err, flow.ErrQualityOutOfRange), errors.Is(err, errInvalidForm):
		return MsgInvalidValue
	case errors.Is(err, errMissingUpload):
		return MsgMissingUpload
	case errors.Is(err, panel.ErrUnknownPanel):
		return MsgUnknownPanel
	case status >= http.StatusInternalServerError:
		return MsgServerError
	default:
		return ""
	}
}
