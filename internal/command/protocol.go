// Package command implements the line-oriented JSON control protocol:
// one request object per line, one response object per line, plus
// unsolicited status_update broadcasts after every accepted mutation.
// The same handler serves the TCP listener and the serial port.
package command

import "encoding/json"

// Command names.
const (
	CmdPing                 = "ping"
	CmdGetStatus            = "get_status"
	CmdSetVehicle           = "set_vehicle"
	CmdSetGear              = "set_gear"
	CmdSetSpeed             = "set_speed"
	CmdSetCANActive         = "set_can_active"
	CmdGetSupportedVehicles = "get_supported_vehicles"
	CmdResetSettings        = "reset_settings"
)

// Request is one inbound command line. Fields beyond Command are
// command specific; pointers distinguish absent from zero.
type Request struct {
	Command string `json:"command"`
	Vehicle string `json:"vehicle,omitempty"`
	Gear    string `json:"gear,omitempty"`
	Speed   *int   `json:"speed,omitempty"`
	Active  *bool  `json:"active,omitempty"`
}

// Response is the reply to one request.
type Response struct {
	Type    string         `json:"type"` // always "response"
	Status  string         `json:"status"`
	Command string         `json:"command,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// StatusUpdate is the unsolicited broadcast sent after mutations and on
// client connect.
type StatusUpdate struct {
	Type            string `json:"type"` // always "status_update"
	Vehicle         string `json:"vehicle"`
	Gear            string `json:"gear"`
	Speed           int    `json:"speed"`
	CANActive       bool   `json:"can_active"`
	Uptime          int64  `json:"uptime"` // seconds
	FirmwareVersion string `json:"firmware_version"`
}

func okResponse(cmd string, data map[string]any) []byte {
	return mustMarshal(Response{Type: "response", Status: "ok", Command: cmd, Data: data})
}

func errResponse(cmd, msg string) []byte {
	return mustMarshal(Response{Type: "response", Status: "error", Command: cmd, Message: msg})
}

// mustMarshal: the payload types above cannot fail to marshal.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
