package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Query limits.
const (
	defaultHistoryWindow = time.Hour
	maxHistoryWindow     = 7 * 24 * time.Hour
)

// ThroughputHistory returns a device's recorded throughput over the last
// window, oldest first. Windows outside (0, 7d] are clamped.
func (c *Client) ThroughputHistory(ctx context.Context, deviceID int, window time.Duration) ([]Throughput, error) {
	if c == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}

	result, err := c.queryAPI.Query(ctx, throughputQuery(c.cfg.Bucket, deviceID, window))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	var out []Throughput
	for result.Next() {
		rec := result.Record()
		t := Throughput{DeviceID: deviceID, Timestamp: rec.Time()}
		if v, ok := rec.ValueByKey("name").(string); ok {
			t.Name = v
		}
		if v, ok := rec.ValueByKey("inbound_pps").(float64); ok {
			t.InboundPPS = v
		}
		if v, ok := rec.ValueByKey("outbound_fps").(float64); ok {
			t.OutboundFPS = v
		}
		if v, ok := rec.ValueByKey("send_errors").(int64); ok && v > 0 {
			t.SendErrors = uint64(v)
		}
		if v, ok := rec.ValueByKey("connected").(bool); ok {
			t.Connected = v
		}
		out = append(out, t)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return out, nil
}

// throughputQuery builds the Flux query for one device's history, with
// fields pivoted into columns.
func throughputQuery(bucket string, deviceID int, window time.Duration) string {
	if window <= 0 {
		window = defaultHistoryWindow
	}
	window = min(window, maxHistoryWindow)

	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %q and r.device_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])`,
		strconv.Quote(bucket), int64(window.Seconds()), MeasurementThroughput, strconv.Itoa(deviceID))
}
