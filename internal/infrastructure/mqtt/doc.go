// Package mqtt provides MQTT client connectivity for Gray Logic Sync.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament for offline detection
//
// # Architecture
//
// In server mode with host.type "mqtt" the sync service reaches the host
// platform through the broker:
//
//	Sync server ↔ MQTT Broker ↔ Host platform
//
// Entity snapshots arrive retained on {prefix}/state/{entity_id}; commands
// go out on {prefix}/command/{entity_id} and are acknowledged on
// {prefix}/ack/{entity_id}.
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) outside the local network
//   - Credentials come from GRAYSYNC_MQTT_USERNAME / GRAYSYNC_MQTT_PASSWORD
package mqtt
