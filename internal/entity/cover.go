package entity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"
)

// CoverDescription binds an openable part of the car.
type CoverDescription struct {
	Description
	OpenCommand  string
	CloseCommand string
}

// Covers is the cover table.
var Covers = []CoverDescription{
	{
		Description: Description{
			Key: "charge_port_door_open", Name: "Charge Port Door", Icon: "mdi:ev-plug-tesla",
			DeviceClass: "door",
			Available: func(ok bool, v *vehicle.Vehicle) bool {
				return ok && !vehicle.IsTrue(v.IsDriving())
			},
		},
		OpenCommand:  "charge_port_door_open",
		CloseCommand: "charge_port_door_close",
	},
}

// Openable is an entity that opens and closes.
type Openable interface {
	Entity
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// Cover opens and closes the charge port door.
type Cover struct {
	*base
	conf CoverDescription

	stateMu   sync.RWMutex
	closed    bool
	available bool
}

// NewCover creates a cover from its description.
func NewCover(coord Coordinator, desc CoverDescription, opts Options) *Cover {
	return &Cover{
		base: newBase(coord, PlatformCover, desc.Description, opts.Logger),
		conf: desc,
	}
}

// Open opens the door. A car that reports it already open counts as done.
func (c *Cover) Open(ctx context.Context) error {
	if shift := c.coord.Data().ShiftState(); shift == nil || *shift != vehicle.ShiftPark {
		c.logger.Warn("Cannot open charge port door while driving")
	}
	if err := c.send(ctx, c.conf.OpenCommand, "already open"); err != nil {
		return err
	}
	c.setClosed(false)
	return nil
}

// Close closes the door. A car that reports it already closed counts as done.
func (c *Cover) Close(ctx context.Context) error {
	if vehicle.IsTrue(c.coord.Data().IsPluggedIn()) {
		c.logger.Warn("Cannot close charge port door while plugged in")
	}
	if err := c.send(ctx, c.conf.CloseCommand, "already closed"); err != nil {
		return err
	}
	c.setClosed(true)
	return nil
}

func (c *Cover) send(ctx context.Context, command, tolerated string) error {
	_, err := c.coord.ExecuteCommand(ctx, command, teslafi.Params{})
	if err == nil {
		return nil
	}
	if errors.Is(err, teslafi.ErrAPI) && strings.Contains(err.Error(), tolerated) {
		return nil
	}
	return err
}

func (c *Cover) setClosed(closed bool) {
	c.stateMu.Lock()
	c.closed = closed
	c.stateMu.Unlock()
	c.writeState()
}

// HandleUpdate reads the door state from the latest data. A missing value
// counts as closed.
func (c *Cover) HandleUpdate(data *vehicle.Vehicle, _ error) {
	open := vehicle.ToBool(c.desc.value(data))

	c.stateMu.Lock()
	c.closed = !vehicle.IsTrue(open)
	c.available = c.isAvailable()
	c.stateMu.Unlock()
	c.writeState()
}

// IsClosed reports the door state.
func (c *Cover) IsClosed() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.closed
}

// State implements Entity. The value is "open" or "closed".
func (c *Cover) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	value := "open"
	if c.closed {
		value = "closed"
	}
	return State{Value: value, Available: c.available, Attributes: attrs(c.desc, nil)}
}

func init() {
	register(PlatformCover, 60, func(coord Coordinator, opts Options) []Entity {
		out := make([]Entity, 0, len(Covers))
		for _, desc := range Covers {
			out = append(out, NewCover(coord, desc, opts))
		}
		return out
	})
}
