package coordinator

import "time"

// Polling tiers.
const (
	DefaultPollInterval  = 5 * time.Minute
	DrivingPollInterval  = 1 * time.Minute
	SleepingPollInterval = 15 * time.Minute
)

// Delays before the confirming refresh after a command.
const (
	// DelayWakeup covers a sleeping car waking up to execute a command.
	DelayWakeup = 30 * time.Second
	// DelayLocks is enough for lock and sentry changes to be reported.
	DelayLocks = 5 * time.Second
	// DelayClimate is enough for HVAC changes to be reported.
	DelayClimate = 10 * time.Second
	// DelayCmdWake is the wake parameter sent with commands to a sleeping car.
	DelayCmdWake = 20 * time.Second
	// DelayWakeButton is the refresh delay after an explicit wake_up.
	DelayWakeButton = 15 * time.Second
	// RequestRefreshCooldown bounds how often requested refreshes hit the API.
	RequestRefreshCooldown = 10 * time.Second
)

// Intervals are the polling tiers by car activity.
type Intervals struct {
	Default  time.Duration `yaml:"default"`
	Driving  time.Duration `yaml:"driving"`
	Sleeping time.Duration `yaml:"sleeping"`
}

// Delays are the command-related timings.
type Delays struct {
	Wakeup          time.Duration `yaml:"wakeup"`
	Locks           time.Duration `yaml:"locks"`
	Climate         time.Duration `yaml:"climate"`
	CmdWake         time.Duration `yaml:"cmd_wake"`
	WakeButton      time.Duration `yaml:"wake_button"`
	RefreshCooldown time.Duration `yaml:"refresh_cooldown"`
}

// Config tunes a coordinator. Zero fields take the package defaults.
type Config struct {
	Intervals Intervals
	Delays    Delays
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	c.Intervals = c.Intervals.withDefaults()
	c.Delays = c.Delays.withDefaults()
	return c
}

func (i Intervals) withDefaults() Intervals {
	if i.Default <= 0 {
		i.Default = DefaultPollInterval
	}
	if i.Driving <= 0 {
		i.Driving = DrivingPollInterval
	}
	if i.Sleeping <= 0 {
		i.Sleeping = SleepingPollInterval
	}
	return i
}

func (d Delays) withDefaults() Delays {
	if d.Wakeup <= 0 {
		d.Wakeup = DelayWakeup
	}
	if d.Locks <= 0 {
		d.Locks = DelayLocks
	}
	if d.Climate <= 0 {
		d.Climate = DelayClimate
	}
	if d.CmdWake <= 0 {
		d.CmdWake = DelayCmdWake
	}
	if d.WakeButton <= 0 {
		d.WakeButton = DelayWakeButton
	}
	if d.RefreshCooldown < 0 {
		d.RefreshCooldown = 0
	} else if d.RefreshCooldown == 0 {
		d.RefreshCooldown = RequestRefreshCooldown
	}
	return d
}
