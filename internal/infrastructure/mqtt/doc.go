// Package mqtt connects Flamecaster to an MQTT broker.
//
// The router's observer link is bridged onto two topic families:
//
//	flamecaster/status/{device_id}   per-device throughput snapshots (retained)
//	flamecaster/command/{name}       observe / shutdown commands
//
// plus a retained flamecaster/system/status online/offline flag backed by a
// Last Will, so dashboards see a crashed router go offline.
//
// This package manages:
//   - Connection with auto-reconnect and subscription restoration
//   - Publishing with QoS and payload-size checks
//   - Panic-safe subscription handlers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        name := mqtt.Topics{}.CommandName(topic)
//	        ...
//	    })
package mqtt
