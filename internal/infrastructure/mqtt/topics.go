package mqtt

// TopicPrefixGateway is the root of every topic the gateway publishes.
const TopicPrefixGateway = "graylogic/gateway"

// Topics builds gateway topic names.
//
//	mqtt.Topics{}.GatewayEvent("device.pair.resolved")
//	// graylogic/gateway/event/device.pair.resolved
type Topics struct{}

// GatewayStatus is the retained online/offline topic.
func (Topics) GatewayStatus() string {
	return TopicPrefixGateway + "/status"
}

// GatewayEvent is the topic for one gateway event name.
func (Topics) GatewayEvent(event string) string {
	return TopicPrefixGateway + "/event/" + event
}

// GatewayAudit is the topic for audit entries with the given action.
func (Topics) GatewayAudit(action string) string {
	return TopicPrefixGateway + "/audit/" + action
}
