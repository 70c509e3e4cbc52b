// Package mqtt provides MQTT client connectivity for the device console.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament on the console status topic
//
// It knows nothing about the device management protocol. The bus/mqttbus
// package layers request/reply correlation and the state cache on top.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.Transport.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllStates(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _ := mqtt.Topics{}.StateID(topic)
//	        log.Printf("state %s = %s", id, payload)
//	        return nil
//	    })
package mqtt
