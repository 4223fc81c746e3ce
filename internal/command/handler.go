package command

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kstaniek/go-cansim/internal/controller"
	"github.com/kstaniek/go-cansim/internal/logging"
	"github.com/kstaniek/go-cansim/internal/metrics"
	"github.com/kstaniek/go-cansim/internal/vehicle"
)

// Core is the controller surface the command protocol needs.
// Implemented by *controller.Controller.
type Core interface {
	Vehicle() vehicle.ID
	Gear() vehicle.Gear
	Speed() int
	BusRunning() bool
	SetVehicle(vehicle.ID) error
	SetGear(vehicle.Gear)
	SetSpeed(int) error
	Reset()
	SupportedVehicles() []vehicle.ID
}

var _ Core = (*controller.Controller)(nil)

// Handler dispatches decoded command lines against the core. It is
// stateless apart from the start time used for uptime reporting, so one
// instance serves every transport concurrently.
type Handler struct {
	core    Core
	version string
	started time.Time
	logger  *slog.Logger
}

// NewHandler builds a handler reporting the given firmware version.
func NewHandler(core Core, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.L()
	}
	return &Handler{core: core, version: version, started: time.Now(), logger: logger}
}

// Handle processes one request line. It returns the marshaled response
// and whether the request mutated controller state (the caller then
// broadcasts a status update).
func (h *Handler) Handle(line []byte) (resp []byte, mutated bool) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		metrics.IncCommandError()
		return errResponse("", "invalid JSON"), false
	}
	if req.Command == "" {
		metrics.IncCommandError()
		return errResponse("", "missing or invalid 'command' field"), false
	}
	metrics.IncCommand(req.Command)
	h.logger.Debug("command_received", "command", req.Command)

	switch req.Command {
	case CmdPing:
		return okResponse(CmdPing, nil), false
	case CmdGetStatus:
		return okResponse(CmdGetStatus, h.statusData()), false
	case CmdSetVehicle:
		return h.setVehicle(req)
	case CmdSetGear:
		return h.setGear(req)
	case CmdSetSpeed:
		return h.setSpeed(req)
	case CmdSetCANActive:
		return h.setCANActive(req)
	case CmdGetSupportedVehicles:
		return okResponse(CmdGetSupportedVehicles, h.supportedData()), false
	case CmdResetSettings:
		h.core.Reset()
		return okResponse(CmdResetSettings, nil), true
	default:
		metrics.IncCommandError()
		return errResponse(req.Command, "unknown command"), false
	}
}

func (h *Handler) setVehicle(req Request) ([]byte, bool) {
	if req.Vehicle == "" {
		metrics.IncCommandError()
		return errResponse(CmdSetVehicle, "missing or invalid 'vehicle' field"), false
	}
	id, err := vehicle.ParseID(req.Vehicle)
	if err != nil {
		metrics.IncCommandError()
		return errResponse(CmdSetVehicle, "unsupported vehicle type"), false
	}
	if err := h.core.SetVehicle(id); err != nil {
		metrics.IncCommandError()
		if errors.Is(err, controller.ErrUnknownVehicle) {
			return errResponse(CmdSetVehicle, "unsupported vehicle type"), false
		}
		return errResponse(CmdSetVehicle, err.Error()), false
	}
	return okResponse(CmdSetVehicle, map[string]any{"vehicle": id.String()}), true
}

func (h *Handler) setGear(req Request) ([]byte, bool) {
	if req.Gear == "" {
		metrics.IncCommandError()
		return errResponse(CmdSetGear, "missing or invalid 'gear' field"), false
	}
	g, err := vehicle.ParseGear(req.Gear)
	if err != nil {
		metrics.IncCommandError()
		return errResponse(CmdSetGear, "invalid gear value"), false
	}
	h.core.SetGear(g)
	return okResponse(CmdSetGear, map[string]any{"gear": g.String()}), true
}

func (h *Handler) setSpeed(req Request) ([]byte, bool) {
	if req.Speed == nil {
		metrics.IncCommandError()
		return errResponse(CmdSetSpeed, "missing or invalid 'speed' field"), false
	}
	if err := h.core.SetSpeed(*req.Speed); err != nil {
		metrics.IncCommandError()
		return errResponse(CmdSetSpeed, "speed must be between 0 and 250 km/h"), false
	}
	return okResponse(CmdSetSpeed, map[string]any{"speed": *req.Speed}), true
}

// setCANActive is acknowledged for protocol compatibility; the
// transmit scheduler is not gated by it.
func (h *Handler) setCANActive(req Request) ([]byte, bool) {
	if req.Active == nil {
		metrics.IncCommandError()
		return errResponse(CmdSetCANActive, "missing or invalid 'active' field"), false
	}
	return okResponse(CmdSetCANActive, map[string]any{"active": *req.Active}), false
}

func (h *Handler) supportedData() map[string]any {
	ids := h.core.SupportedVehicles()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.String())
	}
	return map[string]any{"vehicles": names}
}

func (h *Handler) statusData() map[string]any {
	return map[string]any{
		"vehicle":          h.core.Vehicle().String(),
		"gear":             h.core.Gear().String(),
		"speed":            h.core.Speed(),
		"can_active":       h.core.BusRunning(),
		"uptime":           int64(time.Since(h.started).Seconds()),
		"firmware_version": h.version,
	}
}

// Status returns the marshaled status_update broadcast payload.
func (h *Handler) Status() []byte {
	return mustMarshal(StatusUpdate{
		Type:            "status_update",
		Vehicle:         h.core.Vehicle().String(),
		Gear:            h.core.Gear().String(),
		Speed:           h.core.Speed(),
		CANActive:       h.core.BusRunning(),
		Uptime:          int64(time.Since(h.started).Seconds()),
		FirmwareVersion: h.version,
	})
}
