package planfsm

import (
	"fmt"
	"strings"
)

// EpisodeType is the category of episode a plan state represents
type EpisodeType int

const (
	// EpisodeActivity is a stationary episode such as being at home or at work
	EpisodeActivity EpisodeType = iota
	// EpisodeTrip is a movement between two activities with a travel mode
	EpisodeTrip
	// EpisodeTerminal is the end of an agent's plan
	EpisodeTerminal
)

// String returns the episode type name
func (t EpisodeType) String() string {
	switch t {
	case EpisodeActivity:
		return "activity"
	case EpisodeTrip:
		return "trip"
	case EpisodeTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("EpisodeType(%d)", int(t))
	}
}

// Mode is the travel mode of a trip episode
type Mode int

const (
	ModeWalk Mode = iota
	ModeBike
	ModeCar
	ModeCarPassenger
	ModeTaxi
	ModePublicTransport
	ModeTrain

	numModes int = iota
)

type modeInfo struct {
	name        string
	description string
}

// descriptions keep the codes used by the trip files
var modes = [numModes]modeInfo{
	ModeWalk:            {"walk", "Fuß"},
	ModeBike:            {"bike", "Rad"},
	ModeCar:             {"car", "Pkw"},
	ModeCarPassenger:    {"car_passenger", "PkwMf"},
	ModeTaxi:            {"taxi", "Taxi"},
	ModePublicTransport: {"public_transport", "ÖV"},
	ModeTrain:           {"train", "Zug"},
}

// ID returns the numeric mode identifier used in trip data
func (m Mode) ID() int {
	return int(m)
}

// Valid reports whether m is a declared mode
func (m Mode) Valid() bool {
	return m >= 0 && int(m) < numModes
}

// Description returns the short code of the mode as found in trip data
func (m Mode) Description() string {
	if !m.Valid() {
		return ""
	}
	return modes[m].description
}

// String returns the mode name
func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modes[m].name
}

// Modes returns every declared mode in id order
func Modes() []Mode {
	all := make([]Mode, numModes)
	for i := range all {
		all[i] = Mode(i)
	}
	return all
}

// ModeByID returns the mode with the given trip-data identifier
func ModeByID(id int) (Mode, error) {
	m := Mode(id)
	if !m.Valid() {
		return 0, fmt.Errorf("no travel mode with id %d", id)
	}
	return m, nil
}

// ParseMode resolves a mode from its name or its trip-data description
func ParseMode(s string) (Mode, error) {
	for i, info := range modes {
		if strings.EqualFold(info.name, s) || info.description == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown travel mode %q", s)
}
