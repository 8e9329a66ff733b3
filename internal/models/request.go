package models

type GenerateRequest struct {
	Prompt string `json:"prompt"`
	// NumImages accepts a number or a numeric string. Anything that is not
	// numeric counts as one image; the count is clamped to 1-4.
	NumImages any    `json:"numImages,omitempty"`
	Aspect    string `json:"aspect,omitempty" example:"16:9"`
	// ImageURL is a publicly fetchable reference image, usually the url
	// returned by POST /api/upload.
	ImageURL string `json:"imageUrl,omitempty"`
}

type UploadRequest struct {
	DataURL string `json:"dataUrl"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// UpstreamErrorResponse is returned with 502 when Replicate rejected a call.
type UpstreamErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
	Body   any    `json:"body,omitempty"`
}
