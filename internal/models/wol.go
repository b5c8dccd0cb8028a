package models

import "time"

// WOLConfig holds Wake-on-LAN configuration for the repository host.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	Timeout       time.Duration // max time to wait for the target
	PollInterval  time.Duration // how often to probe the ssh port
	StabilizeWait time.Duration // wait after the target responds
}
