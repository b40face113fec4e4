package models

import "time"

// League describes a competition and its urgency tier
type League struct {
	Key          string
	DisplayName  string
	Tier         Tier
	LiveInterval time.Duration // optional override of the tier live interval
}
