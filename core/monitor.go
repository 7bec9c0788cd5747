package core

// MonitorState is the state of a session monitor's single renewal slot.
type MonitorState int

const (
	// MonitorIdle means no timer is armed: no token, no wallet, or torn down.
	MonitorIdle MonitorState = iota
	// MonitorScheduled means exactly one renewal callback is pending.
	MonitorScheduled
	// MonitorRenewing means the renewal fired and login is in flight.
	MonitorRenewing
)

func (s MonitorState) String() string {
	switch s {
	case MonitorIdle:
		return "idle"
	case MonitorScheduled:
		return "scheduled"
	case MonitorRenewing:
		return "renewing"
	default:
		return "unknown"
	}
}
