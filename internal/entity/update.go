package entity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"teslafi/internal/vehicle"

	"go.uber.org/zap"
)

// ReleaseNotesURL links a firmware version to its release notes.
const ReleaseNotesURL = "https://www.notateslaapp.com/software-updates/version/%s/release-notes"

// Installer is an entity that can install an update.
type Installer interface {
	Entity
	Install(ctx context.Context, version string) error
}

// Update reports available firmware.
type Update struct {
	*base

	stateMu    sync.RWMutex
	installed  *string
	latest     *string
	status     *string
	inProgress bool
	available  bool
}

// NewUpdate creates the firmware update entity.
func NewUpdate(coord Coordinator, opts Options) *Update {
	return &Update{
		base: newBase(coord, PlatformUpdate, Description{
			Key: "update", Name: "Software", Icon: "mdi:cellphone-arrow-down", DeviceClass: "firmware",
		}, opts.Logger),
	}
}

// Install always fails; TeslaFi cannot start an installation.
func (u *Update) Install(context.Context, string) error {
	return fmt.Errorf("install firmware: %w", ErrNotSupported)
}

// HandleUpdate reads the versions from the latest data.
func (u *Update) HandleUpdate(data *vehicle.Vehicle, _ error) {
	installed := data.FirmwareVersion()
	latest := installed
	if v := data.NewVersion(); v != nil {
		if trimmed := strings.TrimSpace(*v); trimmed != "" {
			latest = &trimmed
		}
	}
	status := data.NewVersionStatus()
	inProgress := false
	if status != nil {
		u.logger.Debug("Update status", zap.String("status", *status))
		inProgress = *status == "installing" || *status == "downloading"
	}

	u.stateMu.Lock()
	u.installed = installed
	u.latest = latest
	u.status = status
	u.inProgress = inProgress
	u.available = u.isAvailable()
	u.stateMu.Unlock()
	u.writeState()
}

// ReleaseURL links the latest version's release notes.
func (u *Update) ReleaseURL() string {
	u.stateMu.RLock()
	defer u.stateMu.RUnlock()
	return releaseURL(u.latest)
}

func releaseURL(version *string) string {
	if version == nil {
		return ""
	}
	fields := strings.Fields(*version)
	if len(fields) == 0 {
		return ""
	}
	return fmt.Sprintf(ReleaseNotesURL, fields[0])
}

// State implements Entity. The value is "on" while a newer version is
// offered.
func (u *Update) State() State {
	u.stateMu.RLock()
	defer u.stateMu.RUnlock()

	var value any
	if u.installed != nil && u.latest != nil {
		value = onOff(*u.installed != *u.latest)
	}
	extra := map[string]any{
		"installed_version":  opt(u.installed),
		"latest_version":     opt(u.latest),
		"in_progress":        u.inProgress,
		"new_version_status": opt(u.status),
	}
	if url := releaseURL(u.latest); url != "" {
		extra["release_url"] = url
	}
	return State{Value: value, Available: u.available, Attributes: attrs(u.desc, extra)}
}

func init() {
	register(PlatformUpdate, 80, func(coord Coordinator, opts Options) []Entity {
		return []Entity{NewUpdate(coord, opts)}
	})
}
