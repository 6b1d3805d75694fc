package domain

import "time"

// ActionFailure action the decision collaborator attempted that did not take effect.
type ActionFailure struct {
	Tool  string `json:"tool"`
	Args  string `json:"args"`
	Error string `json:"error"`
}

// CycleResult report of one optimization cycle.
type CycleResult struct {
	ID           string               `json:"id"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
	Model        string               `json:"model,omitempty"`
	Snapshot     VaultSnapshot        `json:"snapshot"`
	Quotes       []AprQuote           `json:"quotes"`
	ActionsTaken []OptimizationAction `json:"actions_taken"`
	Failures     []ActionFailure      `json:"failures,omitempty"`
	Narrative    string               `json:"narrative"`
}

// CycleRecord bundles a stored cycle result with its log index.
type CycleRecord struct {
	Index  uint64
	Result CycleResult
}
