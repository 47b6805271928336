package api

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	// OperationsTracked counts operations accepted since the process started.
	OperationsTracked int    `json:"operations_tracked"`
	Version           string `json:"version"`
}
