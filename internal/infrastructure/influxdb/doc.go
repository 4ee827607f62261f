// Package influxdb records MQTT connection telemetry in InfluxDB v2.
//
// Client wraps the official influxdb-client-go non-blocking write API:
// points are batched according to batch_size and flush_interval and sent in
// the background. Every point carries the client's default tags (site and
// client id).
//
// Telemetry turns client callbacks into points:
//
//	mqtt_connection  tags site, client   fields connected, attempt, reason
//	mqtt_liveness    tags site, client   fields missed_pings, since_last_inbound_ms
//
// A disabled configuration makes Connect return ErrDisabled; callers skip
// telemetry in that case.
package influxdb
