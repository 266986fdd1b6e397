package mqtt

import "strings"

// Control topic suffixes under the device base topic.
const (
	controlEmptyCache         = "control/emptyCache"
	controlProducerProperties = "control/producer/properties"
	controlConsumerProperties = "control/consumer/properties"
)

// Topics builds the Astarte MQTT v1 topics of one device.
//
// Every topic lives under the device base "{realm}/{deviceId}":
//
//	topics := mqtt.NewTopics("test", "2TBn-jNESuuHamE2Zo1anA")
//	topics.Interface("com.example.Sensor", "/temp/value")
//	// Returns: "test/2TBn-jNESuuHamE2Zo1anA/com.example.Sensor/temp/value"
type Topics struct {
	base string
}

// NewTopics returns the topic builder for realm/deviceID.
func NewTopics(realm, deviceID string) Topics {
	return Topics{base: realm + "/" + deviceID}
}

// Base returns the device base topic. Introspection is published here.
//
// Example: test/2TBn-jNESuuHamE2Zo1anA
func (t Topics) Base() string {
	return t.base
}

// Interface returns the topic of a single path of an interface. path must
// start with "/".
//
// Example: test/2TBn-jNESuuHamE2Zo1anA/com.example.Sensor/temp/value
func (t Topics) Interface(iface, path string) string {
	return t.base + "/" + iface + path
}

// InterfaceWildcard matches every path of an interface.
//
// Example: test/2TBn-jNESuuHamE2Zo1anA/com.example.Config/#
func (t Topics) InterfaceWildcard(iface string) string {
	return t.base + "/" + iface + "/#"
}

// EmptyCache returns the topic telling the broker the device lost its session.
func (t Topics) EmptyCache() string {
	return t.base + "/" + controlEmptyCache
}

// ProducerProperties returns the topic listing device-owned properties.
func (t Topics) ProducerProperties() string {
	return t.base + "/" + controlProducerProperties
}

// ConsumerProperties returns the topic on which the server lists the
// server-owned properties that are still set.
func (t Topics) ConsumerProperties() string {
	return t.base + "/" + controlConsumerProperties
}

// ParseInterface splits a topic under the device base into interface name
// and path. ok is false for control topics and foreign topics.
//
// Example: "test/dev/com.example.Config/a/b" -> ("com.example.Config", "/a/b", true)
func (t Topics) ParseInterface(topic string) (iface, path string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.base+"/")
	if !found || strings.HasPrefix(rest, "control/") {
		return "", "", false
	}

	i := strings.IndexByte(rest, '/')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i:], true
}
