package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout also bounds subscribe and unsubscribe.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is in milliseconds.
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	// maxPayloadSize guards against oversized snapshots (1MB).
	maxPayloadSize = 1 << 20

	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from the configuration.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// statusPayload builds the retained status message published on connect,
// on graceful shutdown and as the Last Will.
func statusPayload(clientID, status, reason string) string {
	msg := map[string]string{
		"status":    status,
		"client_id": clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		msg["reason"] = reason
	}
	data, _ := json.Marshal(msg) //nolint:errcheck // map[string]string always marshals
	return string(data)
}
