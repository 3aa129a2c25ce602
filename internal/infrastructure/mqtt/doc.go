// Package mqtt is the gateway's outbound event bus.
//
// Nothing is subscribed; the broker is only a fan-out point for consumers
// outside the gateway process:
//
//	graylogic/gateway/status            retained online/offline (also the last will)
//	graylogic/gateway/event/<event>     device.pair.requested, device.pair.resolved, presence
//	graylogic/gateway/audit/<action>    security audit entries
//
// Audit payloads identify tokens by name or hash prefix only.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.PublishJSON(mqtt.Topics{}.GatewayEvent("device.pair.requested"), payload)
package mqtt
