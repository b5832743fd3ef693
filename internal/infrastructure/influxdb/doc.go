// Package influxdb writes bridge statistics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched point writing, and health monitoring.
//
// # Purpose
//
// Counters from the bridge and the connection manager are sampled on a
// fixed interval and written as two measurements:
//   - bridge_stats: packet and drop counters, tagged by node
//   - bridge_connection: connection state and attempt counters
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	go client.Report(ctx, clientID, cfg.GetInfluxReportInterval(), b)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via a
// callback. Report pings the server before each sample; losing the server
// is reported through the same callback once, and sampling resumes when a
// ping succeeds again. Connection errors are returned directly.
package influxdb
