package model

import "time"

// StatusQuery selects the scope of a delivery status report.
type StatusQuery struct {
	CalendarID string
	// Since starts the window. When zero, Window back from now is used.
	Since  time.Time
	Window time.Duration
	// RecentAttempts bounds how many attempts per endpoint feed its health.
	RecentAttempts int
}

// StatusCounts is the number of events per status.
type StatusCounts struct {
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Add increments the counter for status by n.
func (c *StatusCounts) Add(status EventStatus, n int) {
	switch status {
	case EventStatusPending:
		c.Pending += n
	case EventStatusSending:
		c.Sending += n
	case EventStatusSent:
		c.Sent += n
	case EventStatusFailed:
		c.Failed += n
	}
}

// Total returns the sum over all statuses.
func (c StatusCounts) Total() int {
	return c.Pending + c.Sending + c.Sent + c.Failed
}

// EndpointHealth summarizes recent attempts against one endpoint.
type EndpointHealth struct {
	EndpointID          string     `json:"endpoint_id"`
	CalendarID          string     `json:"calendar_id"`
	URL                 string     `json:"url"`
	IsActive            bool       `json:"is_active"`
	Attempts            int        `json:"attempts"`
	Successes           int        `json:"successes"`
	Failures            int        `json:"failures"`
	SuccessRate         float64    `json:"success_rate"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	Healthy             bool       `json:"healthy"`
}

// StatusReport is the read-side view consumed by operational dashboards.
type StatusReport struct {
	GeneratedAt   time.Time            `json:"generated_at"`
	WindowStart   time.Time            `json:"window_start"`
	Counts        StatusCounts         `json:"counts"`
	LastSuccessAt map[string]time.Time `json:"last_success_at"`
	Endpoints     []EndpointHealth     `json:"endpoints"`
	FailedEvents  []WebhookEvent       `json:"failed_events"`
}
