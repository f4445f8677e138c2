package models

// GenerationStatus is the phase of an in-flight code-generation job.
type GenerationStatus string

const (
	GenerationIdle      GenerationStatus = "idle"
	GenerationRunning   GenerationStatus = "generating"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
	GenerationTimedOut  GenerationStatus = "timed_out"
)

// GenerationProgress is the ephemeral state of the single active job.
type GenerationProgress struct {
	Status             GenerationStatus `json:"status"`
	ProgressPercentage float64          `json:"progress_percentage"`
	CurrentStep        string           `json:"current_step,omitempty"`
	EstimatedCompletion string          `json:"estimated_completion,omitempty"`
}

// GeneratedFile is one output file of a completed generation job.
type GeneratedFile struct {
	Path    string `json:"path"`
	Size    int64  `json:"size,omitempty"`
	Content string `json:"content,omitempty"`
}
