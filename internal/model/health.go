package model

// HealthStatus represents the health state of the bot process
type HealthStatus struct {
	Status    ServiceStatus
	Timestamp int64
	Mode      string
}

// ServiceStatus defines the operational status of the process
type ServiceStatus string

const (
	ServiceStatusHealthy   ServiceStatus = "healthy"
	ServiceStatusDegraded  ServiceStatus = "degraded"
	ServiceStatusUnhealthy ServiceStatus = "unhealthy"
)
