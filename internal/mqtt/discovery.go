// Package mqtt publishes the vehicle entities to Home Assistant through MQTT
// discovery and turns command topic messages into entity actions.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"teslafi/internal/entity"

	"github.com/spf13/cast"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// Command payloads accepted on command topics.
const (
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
	PayloadPress   = "PRESS"
	PayloadOpen    = "OPEN"
	PayloadClose   = "CLOSE"
	PayloadLock    = "LOCK"
	PayloadUnlock  = "UNLOCK"
	PayloadArmAway = "ARM_AWAY"
	PayloadDisarm  = "DISARM"
	PayloadInstall = "install"
	// PayloadNone is published for unknown values.
	PayloadNone = "None"
)

// Climate command actions.
const (
	ActionMode        = "mode"
	ActionTemperature = "temperature"
	ActionPreset      = "preset"
)

// Topics lays out every topic the bridge uses.
//
//	<prefix>/bridge/availability
//	<prefix>/<vin>/<platform>/<key>/{state,attributes,availability}
//	<prefix>/<vin>/<platform>/<key>[/<action>]/set
//	<discovery>/<platform>/<vin>/<key>/config
type Topics struct {
	discovery string
	prefix    string
}

// NewTopics creates the layout. An empty discovery prefix means
// "homeassistant" and an empty topic prefix means "teslafi".
func NewTopics(discovery, prefix string) Topics {
	if discovery == "" {
		discovery = "homeassistant"
	}
	if prefix == "" {
		prefix = "teslafi"
	}
	return Topics{discovery: discovery, prefix: prefix}
}

// Bridge is the bridge-wide availability topic, also used as the will.
func (t Topics) Bridge() string {
	return t.prefix + "/bridge/availability"
}

func (t Topics) node(vin string, e entity.Entity) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.prefix, vin, e.Platform(), e.Key())
}

// State carries the entity value.
func (t Topics) State(vin string, e entity.Entity) string {
	return t.node(vin, e) + "/state"
}

// Attributes carries the entity attributes as JSON.
func (t Topics) Attributes(vin string, e entity.Entity) string {
	return t.node(vin, e) + "/attributes"
}

// Availability carries the entity's own availability.
func (t Topics) Availability(vin string, e entity.Entity) string {
	return t.node(vin, e) + "/availability"
}

// Command is where Home Assistant sends actions. action is empty for the
// primary command.
func (t Topics) Command(vin string, e entity.Entity, action string) string {
	if action == "" {
		return t.node(vin, e) + "/set"
	}
	return t.node(vin, e) + "/" + action + "/set"
}

// Discovery is the retained config topic.
func (t Topics) Discovery(vin string, e entity.Entity) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.discovery, e.Platform(), vin, e.Key())
}

// CommandFilters match every command topic.
func (t Topics) CommandFilters() []string {
	return []string{
		t.prefix + "/+/+/+/set",
		t.prefix + "/+/+/+/+/set",
	}
}

// Actions lists the command actions an entity accepts.
func Actions(e entity.Entity) []string {
	switch e.(type) {
	case entity.Thermostat:
		return []string{ActionMode, ActionTemperature, ActionPreset}
	case entity.Pressable, entity.Toggle, entity.Settable, entity.Openable,
		entity.Lockable, entity.Armable, entity.Installer:
		return []string{""}
	}
	return nil
}

// AvailabilityTopic is one entry of the availability list.
type AvailabilityTopic struct {
	Topic string `json:"topic"`
}

// Config is the discovery payload. Only the fields relevant to the entity's
// platform are set.
type Config struct {
	Name                string              `json:"name"`
	HasEntityName       bool                `json:"has_entity_name"`
	UniqueID            string              `json:"unique_id"`
	ObjectID            string              `json:"object_id,omitempty"`
	Device              entity.DeviceInfo   `json:"device"`
	Availability        []AvailabilityTopic `json:"availability"`
	AvailabilityMode    string              `json:"availability_mode"`
	StateTopic          string              `json:"state_topic,omitempty"`
	JSONAttributesTopic string              `json:"json_attributes_topic,omitempty"`
	CommandTopic        string              `json:"command_topic,omitempty"`
	Icon                string              `json:"icon,omitempty"`
	DeviceClass         string              `json:"device_class,omitempty"`
	UnitOfMeasurement   string              `json:"unit_of_measurement,omitempty"`
	StateClass          string              `json:"state_class,omitempty"`
	EntityCategory      string              `json:"entity_category,omitempty"`
	EnabledByDefault    *bool               `json:"enabled_by_default,omitempty"`
	Options             []string            `json:"options,omitempty"`

	// binary_sensor, switch
	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`
	StateOn    string `json:"state_on,omitempty"`
	StateOff   string `json:"state_off,omitempty"`

	// button
	PayloadPress string `json:"payload_press,omitempty"`

	// number
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`

	// cover
	PayloadOpen  string `json:"payload_open,omitempty"`
	PayloadClose string `json:"payload_close,omitempty"`
	StateOpen    string `json:"state_open,omitempty"`
	StateClosed  string `json:"state_closed,omitempty"`

	// lock
	PayloadLock    string `json:"payload_lock,omitempty"`
	PayloadUnlock  string `json:"payload_unlock,omitempty"`
	StateLocked    string `json:"state_locked,omitempty"`
	StateUnlocked  string `json:"state_unlocked,omitempty"`
	StateLocking   string `json:"state_locking,omitempty"`
	StateUnlocking string `json:"state_unlocking,omitempty"`

	// alarm_control_panel
	PayloadArmAway    string   `json:"payload_arm_away,omitempty"`
	PayloadDisarm     string   `json:"payload_disarm,omitempty"`
	SupportedFeatures []string `json:"supported_features,omitempty"`
	CodeArmRequired   *bool    `json:"code_arm_required,omitempty"`

	// climate
	ModeStateTopic             string   `json:"mode_state_topic,omitempty"`
	ModeCommandTopic           string   `json:"mode_command_topic,omitempty"`
	Modes                      []string `json:"modes,omitempty"`
	TemperatureStateTopic      string   `json:"temperature_state_topic,omitempty"`
	TemperatureStateTemplate   string   `json:"temperature_state_template,omitempty"`
	TemperatureCommandTopic    string   `json:"temperature_command_topic,omitempty"`
	CurrentTemperatureTopic    string   `json:"current_temperature_topic,omitempty"`
	CurrentTemperatureTemplate string   `json:"current_temperature_template,omitempty"`
	FanModeStateTopic          string   `json:"fan_mode_state_topic,omitempty"`
	FanModeStateTemplate       string   `json:"fan_mode_state_template,omitempty"`
	FanModes                   []string `json:"fan_modes,omitempty"`
	PresetModeStateTopic       string   `json:"preset_mode_state_topic,omitempty"`
	PresetModeValueTemplate    string   `json:"preset_mode_value_template,omitempty"`
	PresetModeCommandTopic     string   `json:"preset_mode_command_topic,omitempty"`
	PresetModes                []string `json:"preset_modes,omitempty"`
	MinTemp                    *float64 `json:"min_temp,omitempty"`
	MaxTemp                    *float64 `json:"max_temp,omitempty"`
	TempStep                   *float64 `json:"temp_step,omitempty"`
	TemperatureUnit            string   `json:"temperature_unit,omitempty"`

	// device_tracker
	SourceType string `json:"source_type,omitempty"`

	// update
	PayloadInstall string `json:"payload_install,omitempty"`
	ReleaseURL     string `json:"release_url,omitempty"`
}

// DiscoveryConfig builds the discovery payload for one entity.
func DiscoveryConfig(t Topics, vin string, device entity.DeviceInfo, e entity.Entity) Config {
	desc := e.Description()
	c := Config{
		Name:          e.Name(),
		HasEntityName: true,
		UniqueID:      e.UniqueID(),
		ObjectID:      strings.ToLower(vin + "_" + strings.TrimPrefix(e.Key(), "_")),
		Device:        device,
		Availability: []AvailabilityTopic{
			{Topic: t.Bridge()},
			{Topic: t.Availability(vin, e)},
		},
		AvailabilityMode:    "all",
		StateTopic:          t.State(vin, e),
		JSONAttributesTopic: t.Attributes(vin, e),
		Icon:                desc.Icon,
		DeviceClass:         desc.DeviceClass,
		UnitOfMeasurement:   desc.Unit,
		StateClass:          desc.StateClass,
		EntityCategory:      string(desc.Category),
		Options:             desc.Options,
	}
	if desc.Disabled {
		c.EnabledByDefault = ptr(false)
	}

	switch e.Platform() {
	case entity.PlatformBinarySensor:
		c.PayloadOn, c.PayloadOff = "on", "off"
	case entity.PlatformSwitch:
		c.CommandTopic = t.Command(vin, e, "")
		c.PayloadOn, c.PayloadOff = PayloadOn, PayloadOff
		c.StateOn, c.StateOff = "on", "off"
	case entity.PlatformButton:
		c.StateTopic = ""
		c.CommandTopic = t.Command(vin, e, "")
		c.PayloadPress = PayloadPress
	case entity.PlatformNumber:
		c.CommandTopic = t.Command(vin, e, "")
		if n, ok := e.(entity.Settable); ok {
			lo, hi := n.Bounds()
			c.Min, c.Max = ptr(lo), ptr(hi)
		}
		if step, err := cast.ToFloat64E(e.State().Attributes["step"]); err == nil && step > 0 {
			c.Step = ptr(step)
		}
	case entity.PlatformCover:
		c.CommandTopic = t.Command(vin, e, "")
		c.PayloadOpen, c.PayloadClose = PayloadOpen, PayloadClose
		c.StateOpen, c.StateClosed = "open", "closed"
	case entity.PlatformLock:
		c.CommandTopic = t.Command(vin, e, "")
		c.PayloadLock, c.PayloadUnlock = PayloadLock, PayloadUnlock
		c.StateLocked, c.StateUnlocked = entity.LockLocked, entity.LockUnlocked
		c.StateLocking, c.StateUnlocking = entity.LockLocking, entity.LockUnlocking
	case entity.PlatformAlarm:
		c.CommandTopic = t.Command(vin, e, "")
		c.PayloadArmAway, c.PayloadDisarm = PayloadArmAway, PayloadDisarm
		c.SupportedFeatures = []string{"arm_away"}
		c.CodeArmRequired = ptr(false)
	case entity.PlatformClimate:
		attributes := t.Attributes(vin, e)
		c.StateTopic = ""
		c.ModeStateTopic = t.State(vin, e)
		c.ModeCommandTopic = t.Command(vin, e, ActionMode)
		c.Modes = []string{entity.HVACAuto, entity.HVACOff}
		c.TemperatureStateTopic = attributes
		c.TemperatureStateTemplate = "{{ value_json.temperature }}"
		c.TemperatureCommandTopic = t.Command(vin, e, ActionTemperature)
		c.CurrentTemperatureTopic = attributes
		c.CurrentTemperatureTemplate = "{{ value_json.current_temperature }}"
		c.FanModeStateTopic = attributes
		c.FanModeStateTemplate = "{{ value_json.fan_mode }}"
		c.FanModes = []string{entity.FanAuto, entity.FanOff}
		c.PresetModeStateTopic = attributes
		c.PresetModeValueTemplate = "{{ value_json.preset_mode or 'none' }}"
		c.PresetModeCommandTopic = t.Command(vin, e, ActionPreset)
		c.PresetModes = []string{entity.PresetCamp, entity.PresetDog, entity.PresetKeep}
		c.MinTemp, c.MaxTemp = ptr(entity.ClimateMinTemp), ptr(entity.ClimateMaxTemp)
		c.TempStep = ptr(0.5)
		c.TemperatureUnit = "C"
	case entity.PlatformDeviceTracker:
		c.SourceType = "gps"
	case entity.PlatformUpdate:
		c.CommandTopic = t.Command(vin, e, "")
		c.PayloadInstall = PayloadInstall
		c.ReleaseURL = entity.ReleaseNotesURL
	}
	return c
}

// StatePayload renders an entity value. The update platform takes a JSON
// document instead of a plain value.
func StatePayload(e entity.Entity, s entity.State) []byte {
	if e.Platform() == entity.PlatformUpdate {
		doc := map[string]any{
			"installed_version": s.Attributes["installed_version"],
			"latest_version":    s.Attributes["latest_version"],
			"in_progress":       s.Attributes["in_progress"],
		}
		if url, ok := s.Attributes["release_url"]; ok {
			doc["release_url"] = url
		}
		payload, _ := json.Marshal(doc)
		return payload
	}
	return []byte(FormatValue(s.Value))
}

// FormatValue renders a scalar the way Home Assistant parses it. nil becomes
// "None", which Home Assistant shows as unknown.
func FormatValue(v any) string {
	if v == nil {
		return PayloadNone
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return PayloadNone
		}
		return string(raw)
	}
	return s
}

// AttributesPayload renders the attributes document.
func AttributesPayload(s entity.State) ([]byte, error) {
	if s.Attributes == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.Attributes)
}

// AvailabilityPayload renders an entity's availability.
func AvailabilityPayload(s entity.State) []byte {
	if s.Available {
		return []byte(Online)
	}
	return []byte(Offline)
}

func ptr[T any](v T) *T { return &v }
