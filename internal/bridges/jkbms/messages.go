package jkbms

import (
	"encoding/json"
	"fmt"
	"time"
)

// Default topic roots.
const (
	DefaultFramesTopic       = "rs485tx/tx"
	DefaultValuesRoot        = "rs485tx/bms"
	DefaultRegistrationRoot  = "homeassistant"
	bridgeTopicSegment       = "bridge"
	settingsTopicSegment     = "settings"
	stateTopicSegment        = "state"
	descriptorTopicConfigTag = "config"
)

// Topics holds the topic roots the bridge reads from and publishes to.
type Topics struct {
	// Frames is the topic carrying raw RS485 frames.
	Frames string

	// Values is the root for settings and state snapshots.
	Values string

	// Registration is the Home Assistant discovery prefix.
	Registration string
}

// DefaultTopics returns the topic roots used by the Home Assistant add-on.
func DefaultTopics() Topics {
	return Topics{
		Frames:       DefaultFramesTopic,
		Values:       DefaultValuesRoot,
		Registration: DefaultRegistrationRoot,
	}
}

// DescriptorTopic returns the discovery topic of one entity.
// Example: homeassistant/sensor/jk_bms_01/soc/config
func DescriptorTopic(registrationRoot string, kind SensorKind, addr Address, fieldID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", registrationRoot, kind, addr.DeviceID(), fieldID, descriptorTopicConfigTag)
}

// SettingsTopic returns the topic for settings snapshots.
// Example: rs485tx/bms/01/settings
func SettingsTopic(valuesRoot string, addr Address) string {
	return fmt.Sprintf("%s/%s/%s", valuesRoot, addr, settingsTopicSegment)
}

// StateTopic returns the topic for telemetry snapshots.
// Example: rs485tx/bms/01/state
func StateTopic(valuesRoot string, addr Address) string {
	return fmt.Sprintf("%s/%s/%s", valuesRoot, addr, stateTopicSegment)
}

// HealthTopic returns the topic for bridge health reports.
// Example: rs485tx/bms/bridge/health
func HealthTopic(valuesRoot string) string {
	return fmt.Sprintf("%s/%s/health", valuesRoot, bridgeTopicSegment)
}

// StatusTopic returns the topic for the retained online/offline status.
// Example: rs485tx/bms/bridge/status
func StatusTopic(valuesRoot string) string {
	return fmt.Sprintf("%s/%s/status", valuesRoot, bridgeTopicSegment)
}

// Message is one publication produced from a decoded frame.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Messages converts a decode result into publications.
//
// Descriptors come first (only when the frame registered a new device),
// followed by the settings or state snapshot.
//
// Parameters:
//   - topics: Topic roots
//   - retainDescriptors: Publish descriptors with the retain flag
//
// Returns:
//   - []Message: Publications in order
//   - error: If a payload cannot be serialised
func (r *Result) Messages(topics Topics, retainDescriptors bool) ([]Message, error) {
	var msgs []Message
	addr := r.Frame.Address

	if r.Registered {
		for _, d := range BuildDescriptors(addr, r.CellCount, topics) {
			payload, err := d.Payload()
			if err != nil {
				return nil, fmt.Errorf("marshalling descriptor %s: %w", d.FieldID, err)
			}
			msgs = append(msgs, Message{
				Topic:    d.Topic(topics.Registration),
				Payload:  payload,
				Retained: retainDescriptors,
			})
		}
	}

	if r.Settings != nil {
		payload, err := json.Marshal(r.Settings)
		if err != nil {
			return nil, fmt.Errorf("marshalling settings: %w", err)
		}
		msgs = append(msgs, Message{Topic: SettingsTopic(topics.Values, addr), Payload: payload})
	}

	if r.Telemetry != nil {
		payload, err := json.Marshal(r.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("marshalling state: %w", err)
		}
		msgs = append(msgs, Message{Topic: StateTopic(topics.Values, addr), Payload: payload})
	}

	return msgs, nil
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running but a dependency is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: {values}/bridge/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the report was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Status is the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Statistics contains frame counters.
	Statistics Stats `json:"statistics"`

	// DevicesRegistered is the number of BMS units seen this run.
	DevicesRegistered int `json:"devices_registered"`

	// Reason explains a degraded or stopping status.
	Reason string `json:"reason,omitempty"`
}

// NewHealthMessage creates a health report.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats Stats, devices int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:            bridgeID,
		Timestamp:         time.Now().UTC(),
		Status:            status,
		Version:           version,
		UptimeSeconds:     int64(time.Since(startTime).Seconds()),
		Statistics:        stats,
		DevicesRegistered: devices,
	}
}
