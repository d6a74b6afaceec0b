// Package influxdb exports BMS telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Every point carries a
// "bridge" tag; the bridge writes "bms_state" (pack values) and "bms_cell"
// (per-cell voltage and resistance) points.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Bridge.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { logger.Warn("influx write failed", "error", err) })
//
// Writes are non-blocking and batched (batch_size, flush_interval).
package influxdb
