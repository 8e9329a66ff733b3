package models

const (
	ModeSingle = "single"
	ModeBatch  = "batch"
)

type HealthResponse struct {
	OK         bool `json:"ok"`
	HasToken   bool `json:"hasToken"`
	TimeoutMs  int  `json:"timeoutMs"`
	MaxRetries int  `json:"maxRetries"`
}

type PredictionItem struct {
	ID     string   `json:"id"`
	GetURL string   `json:"getUrl"`
	WebURL string   `json:"webUrl,omitempty"`
	Status string   `json:"status"`
	Output []string `json:"output"`
}

type SingleGenerateResponse struct {
	Mode string `json:"mode"`
	PredictionItem
}

type BatchGenerateResponse struct {
	Mode   string           `json:"mode"`
	Count  int              `json:"count"`
	Items  []PredictionItem `json:"items"`
	TookMs int64            `json:"tookMs"`
}

type UploadResponse struct {
	URL  string `json:"url"`
	Mime string `json:"mime"`
	Size int    `json:"size"`
}
