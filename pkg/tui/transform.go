package tui

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// RegisterDomainToUITransformer subscribes to domain events and republishes
// them as UI messages: snapshots pass through, edge events become event-log
// lines.
func RegisterDomainToUITransformer(bus *Bus) {
	bus.AddHandler("stackctl-domain-to-ui", TopicStackEvents, func(msg *message.Message) error {
		defer msg.Ack()

		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			return errors.Wrap(err, "unmarshal domain envelope")
		}

		publishUI := func(uiType string, payload any) error {
			return PublishEnvelope(bus.Publisher, TopicUIMessages, uiType, payload)
		}

		publishEventText := func(at time.Time, source string, level LogLevel, text string) error {
			entry := EventLogEntry{At: at, Source: source, Level: level, Text: text}
			return publishUI(UITypeEventAppend, entry)
		}

		switch env.Type {
		case DomainTypeStateSnapshot:
			var snap StateSnapshot
			if err := json.Unmarshal(env.Payload, &snap); err != nil {
				return errors.Wrap(err, "unmarshal state snapshot")
			}
			if err := publishUI(UITypeStateSnapshot, snap); err != nil {
				return err
			}
			if snap.Error != "" {
				return publishEventText(time.Now(), "system", LogLevelWarn, "state: "+snap.Error)
			}
			return nil

		case DomainTypeServiceExit:
			var ev ServiceExitObserved
			if err := json.Unmarshal(env.Payload, &ev); err != nil {
				return errors.Wrap(err, "unmarshal service exit")
			}
			text := fmt.Sprintf("service exit: %s pid=%d", ev.Name, ev.PID)
			if ev.Reason != "" {
				text = fmt.Sprintf("%s (%s)", text, ev.Reason)
			}
			return publishEventText(ev.When, ev.Name, LogLevelWarn, text)

		case DomainTypeMarkerChanged:
			var ev MarkerChanged
			if err := json.Unmarshal(env.Payload, &ev); err != nil {
				return errors.Wrap(err, "unmarshal marker changed")
			}
			text := "marker removed: " + ev.Path
			level := LogLevelWarn
			if ev.Present {
				text = "marker present: " + ev.Path
				level = LogLevelInfo
			}
			return publishEventText(ev.When, "marker", level, text)

		case DomainTypeHealthChanged:
			var ev HealthChanged
			if err := json.Unmarshal(env.Payload, &ev); err != nil {
				return errors.Wrap(err, "unmarshal health changed")
			}
			level := LogLevelInfo
			if ev.To == "unhealthy" {
				level = LogLevelError
			} else if ev.To == "degraded" {
				level = LogLevelWarn
			}
			return publishEventText(ev.When, ev.Service, level,
				fmt.Sprintf("health: %s -> %s", ev.From, ev.To))

		default:
			return nil
		}
	})
}
