// Package session keeps device properties in sync with Astarte over MQTT.
//
// A Session sits between the property cache and the broker connection:
//   - Device-owned writes are published, then recorded in the cache.
//   - Server-owned messages are recorded in the cache as they arrive.
//   - On every connection the introspection is announced, and after a
//     session loss the cached device-owned values are sent again.
//   - The server's consumer property list purges server-owned values it no
//     longer holds.
//
// Property lists on the control topics are encoded as a 4-byte big-endian
// uncompressed length followed by the zlib stream of "iface/path;iface/path".
//
// Usage:
//
//	sess, err := session.New(mqttClient, store, codec.NewCBOR(), session.Options{
//	    Realm:      cfg.Device.Realm,
//	    DeviceID:   cfg.Device.DeviceID,
//	    Interfaces: interfaces,
//	    Logger:     log.Component("session"),
//	})
//	mqttClient.SetOnConnect(func() {
//	    if err := sess.OnConnect(ctx, false); err != nil {
//	        log.Error("sync failed", "error", err)
//	    }
//	})
package session
