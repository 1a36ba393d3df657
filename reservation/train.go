package reservation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REFERENCE DATA - Read-only to the engine
// =============================================================================

type Station struct {
	Code  string
	Name  string
	City  string
	State string
}

// Stop is one timetable entry. Arrival is empty at the origin and Departure
// is empty at the terminus.
type Stop struct {
	Seq         int
	StationCode string
	Arrival     string // HH:MM
	Departure   string // HH:MM
	DayOffset   int    // days after the service date
	DistanceKm  int
	Platform    string
}

// TrainClass is the per-class template for every run of a train. BaseFare
// is the Fare Table entry for (train, class).
type TrainClass struct {
	Class         ClassType
	BaseFare      decimal.Decimal
	TotalSeats    int
	RACCapacity   int
	SeatsPerCoach int
	CoachPrefix   string
}

type Train struct {
	Number  string
	Name    string
	Type    string
	RunsOn  []time.Weekday // empty means daily
	Stops   []Stop
	Classes []TrainClass
}

// Run is one train on one service date.
type Run struct {
	TrainNumber string
	Date        Date
	DepartureAt time.Time
}

func (t *Train) Origin() *Stop {
	if len(t.Stops) == 0 {
		return nil
	}
	return &t.Stops[0]
}

func (t *Train) Terminus() *Stop {
	if len(t.Stops) == 0 {
		return nil
	}
	return &t.Stops[len(t.Stops)-1]
}

// StopAt returns the index of the stop at station code, or -1.
func (t *Train) StopAt(code string) int {
	for i, s := range t.Stops {
		if strings.EqualFold(s.StationCode, code) {
			return i
		}
	}
	return -1
}

func (t *Train) Class(c ClassType) (TrainClass, bool) {
	for _, tc := range t.Classes {
		if tc.Class == c {
			return tc, true
		}
	}
	return TrainClass{}, false
}

func (t *Train) RunsOnDay(wd time.Weekday) bool {
	if len(t.RunsOn) == 0 {
		return true
	}
	for _, d := range t.RunsOn {
		if d == wd {
			return true
		}
	}
	return false
}

// DepartureAt is the instant the run leaves its origin (UTC).
func (t *Train) DepartureAt(date Date) (time.Time, error) {
	origin := t.Origin()
	if origin == nil {
		return time.Time{}, fmt.Errorf("train %s has no stops", t.Number)
	}
	return stopTime(date, origin.Departure, origin.DayOffset)
}

// ArrivalAt is the instant the run reaches stop i.
func (t *Train) ArrivalAt(date Date, i int) (time.Time, error) {
	s := t.Stops[i]
	clock := s.Arrival
	if clock == "" {
		clock = s.Departure
	}
	return stopTime(date, clock, s.DayOffset)
}

// LeavesAt is the instant the run departs stop i.
func (t *Train) LeavesAt(date Date, i int) (time.Time, error) {
	s := t.Stops[i]
	clock := s.Departure
	if clock == "" {
		clock = s.Arrival
	}
	return stopTime(date, clock, s.DayOffset)
}

func stopTime(date Date, clock string, dayOffset int) (time.Time, error) {
	off, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return date.AddDays(dayOffset).Time().Add(off), nil
}

// NewInventory builds the empty inventory of one class for a run.
func NewInventory(key InventoryKey, tc TrainClass) ClassInventory {
	return ClassInventory{
		Key:           key,
		TotalSeats:    tc.TotalSeats,
		RACCapacity:   tc.RACCapacity,
		SeatsPerCoach: tc.SeatsPerCoach,
		CoachPrefix:   tc.CoachPrefix,
		NextQueueSeq:  1,
	}
}
