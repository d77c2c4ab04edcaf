package mqtt

import "fmt"

// TopicPrefix is the root of every Flamecaster topic.
const TopicPrefix = "flamecaster"

// Topics provides builders for Flamecaster MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceStatus("3")   // flamecaster/status/3
//	topics.Command("observe")  // flamecaster/command/observe
type Topics struct{}

// DeviceStatus returns the topic carrying one device's throughput snapshots.
//
// Example: flamecaster/status/3
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, deviceID)
}

// Command returns the topic for a named router command.
//
// Example: flamecaster/command/shutdown
func (Topics) Command(name string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, name)
}

// SystemStatus returns the retained online/offline topic.
//
// Example: flamecaster/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// RouterState returns the retained topic carrying the router's lifecycle
// state (running, cooldown, stopped and so on).
//
// Example: flamecaster/router/state
func (Topics) RouterState() string {
	return TopicPrefix + "/router/state"
}

// AllDeviceStatus matches every device's status topic.
//
// Pattern: flamecaster/status/+
func (Topics) AllDeviceStatus() string {
	return TopicPrefix + "/status/+"
}

// AllCommands matches every command topic.
//
// Pattern: flamecaster/command/+
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// CommandName extracts the command name from a command topic.
// It returns "" if topic is not a command topic.
func (Topics) CommandName(topic string) string {
	prefix := TopicPrefix + "/command/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return ""
	}
	return topic[len(prefix):]
}
