package tui

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
)

// RegisterUIForwarder pumps UI-topic envelopes into the bubbletea program.
// Unknown envelope types are acked and dropped so a newer publisher never
// wedges an older dashboard.
func RegisterUIForwarder(bus *Bus, p *tea.Program) {
	bus.AddHandler("stackctl-ui-pump", TopicUIMessages, func(msg *message.Message) error {
		defer msg.Ack()

		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			return errors.Wrap(err, "unmarshal ui envelope")
		}
		teaMsg, err := uiMessageFor(env)
		if err != nil {
			return err
		}
		if teaMsg != nil {
			p.Send(teaMsg)
		}
		return nil
	})
}

func uiMessageFor(env Envelope) (tea.Msg, error) {
	switch env.Type {
	case UITypeStateSnapshot:
		var snap StateSnapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			return nil, errors.Wrap(err, "unmarshal snapshot payload")
		}
		return StateSnapshotMsg{Snapshot: snap}, nil

	case UITypeEventAppend:
		var entry EventLogEntry
		if err := json.Unmarshal(env.Payload, &entry); err != nil {
			return nil, errors.Wrap(err, "unmarshal event payload")
		}
		return EventLogAppendMsg{Entry: entry}, nil

	default:
		return nil, nil
	}
}
