// Package influxdb records control value history in InfluxDB.
//
// Client implements the control synchronizer's History sink: every value
// applied to a control binding becomes one control_state point tagged by
// instance, device and control, stamped with the state's own timestamp.
// Writes are non-blocking and batched by the underlying write API; write
// errors arrive asynchronously through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	sync.SetHistory(client)
package influxdb
