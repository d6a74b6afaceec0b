// Package mqtt provides the broker connection for the JK-BMS bridge.
//
// This package manages:
//   - Connection to the broker (Mosquitto add-on by default) with auto-reconnect
//   - Publishing discovery configs and snapshots
//   - The frames subscription, restored after reconnect
//   - Availability via Last Will: "online"/"offline" retained on the status topic
//
// # Topology
//
//	RS485 gateway → broker (rs485tx/tx) → bridge → broker → Home Assistant
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "rs485tx/bms/bridge/status")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("rs485tx/tx", 0, func(topic string, payload []byte) error {
//	    return handle(payload)
//	})
package mqtt
