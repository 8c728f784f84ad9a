package model

// ListResponse is the envelope for list endpoints.
type ListResponse[T any] struct {
	Resource []T          `json:"resource"`
	Meta     ResponseMeta `json:"meta"`
}

// ResponseMeta carries pagination information for list responses.
type ResponseMeta struct {
	Count  int  `json:"count"`
	Total  *int `json:"total,omitempty"`
	Limit  int  `json:"limit"`
	Offset int  `json:"offset"`
}

// ErrorResponse is the envelope for transport-level errors (bad JSON,
// authentication failures). License operations always answer with their
// own response object instead.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}
