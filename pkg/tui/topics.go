package tui

const (
	TopicStackEvents = "stackctl.events"
	TopicUIMessages  = "stackctl.ui.msgs"
)

const (
	DomainTypeStateSnapshot = "state.snapshot"
	DomainTypeServiceExit   = "service.exit.observed"
	DomainTypeMarkerChanged = "marker.changed"
	DomainTypeHealthChanged = "health.changed"
)

const (
	UITypeStateSnapshot = "tui.state.snapshot"
	UITypeEventAppend   = "tui.event.append"
)
