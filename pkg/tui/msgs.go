package tui

// Bubbletea messages delivered by the UI forwarder. One per UI envelope
// type; the root model fans them out to the views.

// StateSnapshotMsg replaces the dashboard's view of the running stack.
type StateSnapshotMsg struct {
	Snapshot StateSnapshot
}

// EventLogAppendMsg appends one line to the event log.
type EventLogAppendMsg struct {
	Entry EventLogEntry
}
