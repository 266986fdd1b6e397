// Package mqtt provides the device-to-broker transport for the Astarte
// device client.
//
// This package manages:
//   - Mutual-TLS connection to the broker discovered through pairing
//   - Auto-reconnect with exponential backoff
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after every reconnect
//   - Astarte MQTT v1 topic layout (Topics)
//
// # Sessions
//
// Sessions are always clean. The broker keeps nothing for the device
// between connections, so the OnConnect callback is where introspection and
// cached properties are sent again.
//
// # Usage
//
//	client := mqtt.New(mqtt.Options{
//	    BrokerURL: creds.BrokerURL,
//	    ClientID:  realm + "/" + deviceID,
//	    TLSConfig: creds.TLSConfig(),
//	})
//	client.SetOnConnect(func() { session.OnConnect(ctx, false) })
//	if err := client.Start(); err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
