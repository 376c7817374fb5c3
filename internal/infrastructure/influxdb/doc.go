// Package influxdb records authentication telemetry in InfluxDB.
//
// Two measurements are written:
//   - auth_gate: one point per auth gate decision, tagged by outcome code and
//     token carrier, with a refreshed field for transparent token reissues
//   - secret_rotation: one point per signing secret rotation attempt
//
// Telemetry is optional. When influxdb.enabled is false, Connect returns
// ErrDisabled and the service runs without it.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteGateOutcome("ADMITTED", "cookie", false)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; async failures reach the SetOnError callback.
package influxdb
