package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "graysync"

// Topics builds the MQTT topics shared with the host platform.
//
// Hierarchy:
//
//	{prefix}/state/{entity_id}    retained entity snapshots from the host
//	{prefix}/command/{entity_id}  commands to the host
//	{prefix}/ack/{entity_id}      command acknowledgements from the host
//	{prefix}/status               sync service online/offline status
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// EntityState returns the retained state topic for an entity.
func (t Topics) EntityState(entityID string) string {
	return t.prefix + "/state/" + entityID
}

// EntityCommand returns the command topic for an entity.
func (t Topics) EntityCommand(entityID string) string {
	return t.prefix + "/command/" + entityID
}

// EntityAck returns the acknowledgement topic for an entity.
func (t Topics) EntityAck(entityID string) string {
	return t.prefix + "/ack/" + entityID
}

// AllEntityStates matches every entity state topic.
func (t Topics) AllEntityStates() string {
	return t.prefix + "/state/+"
}

// AllEntityCommands matches every command topic.
func (t Topics) AllEntityCommands() string {
	return t.prefix + "/command/+"
}

// AllEntityAcks matches every acknowledgement topic.
func (t Topics) AllEntityAcks() string {
	return t.prefix + "/ack/+"
}

// Status returns the service status topic.
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// EntityID extracts the entity id from a state, command or ack topic.
// It returns false if topic does not belong to this prefix.
func (t Topics) EntityID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return "", false
	}
	kind, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	switch kind {
	case "state", "command", "ack":
		return id, true
	}
	return "", false
}
