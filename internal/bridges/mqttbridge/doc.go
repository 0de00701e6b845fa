// Package mqttbridge implements entity.Host over MQTT, and Mirror, which
// exposes a sync client's mirror to a local platform on the same topics.
//
// The home-automation platform publishes retained entity snapshots on
// {prefix}/state/{entity_id}. Commands go out on {prefix}/command/{entity_id}
// and the platform answers each one on {prefix}/ack/{entity_id} with the
// command's correlation id. Host reads are served from a cache fed by the
// state topics, so Read and List never touch the network.
package mqttbridge
