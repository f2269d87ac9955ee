package entity

import (
	"context"
	"sync"

	"teslafi/internal/teslafi"
	"teslafi/internal/vehicle"
)

// ButtonDescription binds a one-shot command.
type ButtonDescription struct {
	Description
	Command string
	// AfterPress runs once the command succeeded.
	AfterPress func(coord Coordinator)
}

// Buttons is the button table.
var Buttons = []ButtonDescription{
	{
		Description: Description{Key: "cmd_wake_up", Name: "Wake Up", Icon: "mdi:sleep-off"},
		Command:     "wake_up",
		AfterPress: func(coord Coordinator) {
			coord.ScheduleRefreshIn(coord.Delays().WakeButton)
		},
	},
	{
		Description: Description{Key: "cmd_honk", Name: "Honk Horn", Icon: "mdi:bullhorn"},
		Command:     "honk",
	},
	{
		Description: Description{Key: "cmd_flash_lights", Name: "Flash Lights", Icon: "mdi:car-light-high"},
		Command:     "flash_lights",
	},
}

// Pressable is an entity that runs an action when pressed.
type Pressable interface {
	Entity
	Press(ctx context.Context) error
}

// Button sends a command when pressed.
type Button struct {
	*base
	command    string
	afterPress func(coord Coordinator)

	stateMu   sync.RWMutex
	available bool
}

// NewButton creates a button from its description.
func NewButton(coord Coordinator, desc ButtonDescription, opts Options) *Button {
	return &Button{
		base:       newBase(coord, PlatformButton, desc.Description, opts.Logger),
		command:    desc.Command,
		afterPress: desc.AfterPress,
	}
}

// Press sends the command.
func (b *Button) Press(ctx context.Context) error {
	if _, err := b.coord.ExecuteCommand(ctx, b.command, teslafi.Params{}); err != nil {
		return err
	}
	if b.afterPress != nil {
		b.afterPress(b.coord)
	}
	return nil
}

// HandleUpdate refreshes availability.
func (b *Button) HandleUpdate(_ *vehicle.Vehicle, _ error) {
	b.stateMu.Lock()
	b.available = b.isAvailable()
	b.stateMu.Unlock()
	b.writeState()
}

// State implements Entity. Buttons have no value.
func (b *Button) State() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return State{Available: b.available, Attributes: attrs(b.desc, nil)}
}

func init() {
	register(PlatformButton, 30, func(coord Coordinator, opts Options) []Entity {
		out := make([]Entity, 0, len(Buttons))
		for _, desc := range Buttons {
			out = append(out, NewButton(coord, desc, opts))
		}
		return out
	})
}
