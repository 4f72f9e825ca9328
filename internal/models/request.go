package models

// ModelsResponse represents the OpenAI models list response
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

// ModelObject represents a single model in the list
type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides error details
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Error codes returned in ErrorDetail.Code.
const (
	ErrorTypeAPI = "api_error"

	CodeUnauthorized     = "unauthorized"
	CodeInvalidAPIKey    = "invalid_api_key"
	CodeInvalidRequest   = "invalid_request"
	CodeNotFound         = "not_found"
	CodeGenerationFailed = "generation_failed"
)

// NewErrorResponse builds the uniform error envelope.
func NewErrorResponse(message, code string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Message: message, Type: ErrorTypeAPI, Code: code}}
}

// UpstreamRequest is the body posted to the optimization service.
type UpstreamRequest struct {
	Text string `json:"text"`
}

// UpstreamEnvelope is the response contract of the optimization service.
// Both fields are pointers so that absence is distinguishable from zero values.
type UpstreamEnvelope struct {
	Success *bool   `json:"success" validate:"required"`
	Data    *string `json:"data" validate:"required"`
}
