package replicate

// Prediction statuses reported by Replicate.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// PredictionInput is what the proxy asks of one upstream prediction.
type PredictionInput struct {
	Prompt            string
	AspectRatio       string
	ReferenceImageURL string
}

type PredictionURLs struct {
	Get    string `json:"get"`
	Cancel string `json:"cancel,omitempty"`
	Web    string `json:"web,omitempty"`
	Stream string `json:"stream,omitempty"`
}

// Prediction is the upstream job document. Output is left undecoded because
// its shape varies between model revisions.
type Prediction struct {
	ID          string         `json:"id"`
	Model       string         `json:"model,omitempty"`
	Version     string         `json:"version,omitempty"`
	Status      string         `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      any            `json:"output"`
	Error       any            `json:"error,omitempty"`
	Logs        string         `json:"logs,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
	CompletedAt *string        `json:"completed_at,omitempty"`
	URLs        PredictionURLs `json:"urls"`
}

type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

type modelResponse struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	LatestVersion *struct {
		ID string `json:"id"`
	} `json:"latest_version"`
}
