package pnw

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// NationSnapshot is the validated, fixed-shape view of a nation as returned
// by the API. The GraphQL layer is loosely typed (ids arrive as strings,
// fields may be missing); everything crossing into the engine goes through
// parseNationSnapshot first.
type NationSnapshot struct {
	ID                 int
	Name               string
	AllianceID         *int
	AllianceName       string
	Score              float64
	Cities             int
	EspionageAvailable bool
	BeigeTurns         int
	VacationTurns      int
	LastActive         *time.Time
}

// Dormant reports whether the nation is in vacation mode. Dormant nations
// are unobservable: espionage_available is not meaningful for them.
func (n NationSnapshot) Dormant() bool {
	return n.VacationTurns > 0
}

// lastActive timestamps come back in either RFC 3339 or the API's legacy
// space-separated form.
var lastActiveLayouts = []string{time.RFC3339, "2006-01-02 15:04:05"}

// parseNationSnapshot validates one element of a nations.data array.
// Malformed records (missing id or name) are rejected rather than
// propagated with zero values.
func parseNationSnapshot(n gjson.Result) (NationSnapshot, error) {
	id := int(n.Get("id").Int())
	if id <= 0 {
		return NationSnapshot{}, fmt.Errorf("nation snapshot missing id: %s", n.Raw)
	}
	name := n.Get("nation_name").String()
	if name == "" {
		return NationSnapshot{}, fmt.Errorf("nation snapshot %d missing nation_name", id)
	}

	snap := NationSnapshot{
		ID:                 id,
		Name:               name,
		AllianceName:       n.Get("alliance.name").String(),
		Score:              n.Get("score").Float(),
		Cities:             int(n.Get("num_cities").Int()),
		EspionageAvailable: n.Get("espionage_available").Bool(),
		BeigeTurns:         int(n.Get("beige_turns").Int()),
		VacationTurns:      int(n.Get("vacation_mode_turns").Int()),
	}

	// alliance_id 0 means no alliance; keep it nil so group membership
	// stays distinguishable from "alliance id zero".
	if aid := int(n.Get("alliance_id").Int()); aid > 0 {
		snap.AllianceID = &aid
	}

	if raw := n.Get("last_active").String(); raw != "" {
		for _, layout := range lastActiveLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				snap.LastActive = &t
				break
			}
		}
	}

	return snap, nil
}
