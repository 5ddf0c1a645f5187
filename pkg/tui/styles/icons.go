package styles

const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "ℹ"
	IconPending = "○"
	IconBullet  = "•"
	IconHealthy = "●"
)

// StatusIcon returns the icon for a service liveness state.
func StatusIcon(alive bool) string {
	if alive {
		return IconSuccess
	}
	return IconError
}

// HealthIcon returns the icon for a health status.
func HealthIcon(status string) string {
	switch status {
	case "healthy":
		return IconHealthy
	case "unhealthy", "degraded":
		return IconWarning
	default:
		return IconPending
	}
}

// LogLevelIcon returns the icon for an event-log level.
func LogLevelIcon(level string) string {
	switch level {
	case "error":
		return IconError
	case "warn", "warning":
		return IconWarning
	case "info":
		return IconInfo
	default:
		return IconBullet
	}
}
