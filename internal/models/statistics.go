package models

// ServiceStats is a per-service breakdown of closed activations.
type ServiceStats struct {
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Refunded  int `json:"refunded"`
}

// Stats is a point-in-time snapshot of the agent's activation counters.
type Stats struct {
	TotalActivations     int                     `json:"total_activations"`
	CompletedActivations int                     `json:"completed_activations"`
	CancelledActivations int                     `json:"cancelled_activations"`
	RefundedActivations  int                     `json:"refunded_activations"`
	TotalEarnings        float64                 `json:"total_earnings"`
	ServiceStats         map[string]ServiceStats `json:"service_stats"`
	CompletionSeconds    []float64               `json:"completion_seconds"`
}
