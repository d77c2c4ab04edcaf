// Package influxdb records router throughput history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every status
// interval the router's snapshots are written as device_throughput points
// (tags: device_id, name; fields: inbound_pps, outbound_fps, send_errors,
// connected) and can be read back per device for the status API.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteThroughput(influxdb.Throughput{DeviceID: 1, Name: "stage-left", OutboundFPS: 30})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; write errors are
// delivered to the SetOnError callback.
package influxdb
