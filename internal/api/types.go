package api

// ForwardResponse is returned when every event of a delivery was forwarded.
type ForwardResponse struct {
	Forwarded int `json:"forwarded"`
}

// ErrorResponse is returned on errors. Error is a stable text code and never
// carries secret or signature detail.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
