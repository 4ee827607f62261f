// Package lighting is the application side of the MQTT client: it drives
// the four light channels of a smart-home lighting node and tracks the
// sensor readings the node reports.
//
// The node speaks flat JSON over a handful of topics:
//
//	alarm        {"temp","humi","dist","lux","human","mode"}   threshold alarm with a full reading
//	sensor/data  {"temperature","humidity","distance","light"} periodic reading
//	control      {"level1":n} {"mode":1} {"command":"getMode"}  levels, mode changes, mode queries
//	request      {"action":"getData"}                           ask the node to report now
//
// Numeric readings may arrive as JSON numbers or as strings; both are
// accepted. Mode 1 means automatic, anything else manual.
//
// Controller implements the mqtt Handler interface. On every connect it
// subscribes the device topics, asks for fresh data and queries the mode.
package lighting
