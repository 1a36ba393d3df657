/*
Package catalog loads stations, trains and their class templates, and opens
runs.

PURPOSE:
  The reservation engine only books against runs that exist. This package
  turns a JSON catalog into reservation.Train values, writes them to a store,
  and opens runs (one ClassInventory per class, from the class template) for
  the days a train runs.

JSON SCHEMA:
  {
    "stations": [{"code": "NDLS", "name": "New Delhi", "city": "Delhi", "state": "Delhi"}],
    "trains": [{
      "number": "12951",
      "name": "Mumbai Rajdhani",
      "type": "Rajdhani",
      "runs_on": ["Mon", "Wed", "Fri"],
      "stops": [
        {"station": "NDLS", "departure": "16:55", "distance_km": 0},
        {"station": "BCT", "arrival": "08:35", "day": 1, "distance_km": 1386}
      ],
      "classes": [
        {"class": "3A", "base_fare": "2450.00", "total_seats": 256,
         "rac_capacity": 16, "seats_per_coach": 64, "coach_prefix": "B"}
      ]
    }]
  }

  An empty runs_on means the train runs daily.

USAGE:
  cat, err := catalog.Default()
  if err != nil {
      log.Fatal(err)
  }
  if err := catalog.Seed(ctx, store, cat); err != nil {
      log.Fatal(err)
  }
  opened, err := catalog.OpenRuns(ctx, store, reservation.DateOf(time.Now()), 30)

SEE ALSO:
  - reservation/train.go: Train, Stop, TrainClass
  - default.json: Catalog used when no file is configured
*/
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/seat-engine/reservation"
)

//go:embed default.json
var defaultCatalog []byte

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type Catalog struct {
	Stations []StationJSON `json:"stations"`
	Trains   []TrainJSON   `json:"trains"`
}

type StationJSON struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

type TrainJSON struct {
	Number  string      `json:"number"`
	Name    string      `json:"name"`
	Type    string      `json:"type,omitempty"`
	RunsOn  []string    `json:"runs_on,omitempty"`
	Stops   []StopJSON  `json:"stops"`
	Classes []ClassJSON `json:"classes"`
}

type StopJSON struct {
	Station    string `json:"station"`
	Arrival    string `json:"arrival,omitempty"`
	Departure  string `json:"departure,omitempty"`
	Day        int    `json:"day,omitempty"` // days after the service date
	DistanceKm int    `json:"distance_km"`
	Platform   string `json:"platform,omitempty"`
}

type ClassJSON struct {
	Class         string `json:"class"`
	BaseFare      string `json:"base_fare"`
	TotalSeats    int    `json:"total_seats"`
	RACCapacity   int    `json:"rac_capacity"`
	SeatsPerCoach int    `json:"seats_per_coach"`
	CoachPrefix   string `json:"coach_prefix"`
}

// =============================================================================
// LOADING
// =============================================================================

// Parse decodes and validates a catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	if _, _, err := c.Build(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Build converts the catalog into domain values. Every stop must name a
// station of the catalog.
func (c *Catalog) Build() ([]reservation.Station, []reservation.Train, error) {
	stations := make([]reservation.Station, 0, len(c.Stations))
	known := make(map[string]bool, len(c.Stations))
	for _, sj := range c.Stations {
		code := strings.ToUpper(strings.TrimSpace(sj.Code))
		if code == "" || sj.Name == "" {
			return nil, nil, fmt.Errorf("station %q: code and name are required", sj.Code)
		}
		if known[code] {
			return nil, nil, fmt.Errorf("station %s: duplicate", code)
		}
		known[code] = true
		stations = append(stations, reservation.Station{Code: code, Name: sj.Name, City: sj.City, State: sj.State})
	}

	trains := make([]reservation.Train, 0, len(c.Trains))
	numbers := make(map[string]bool, len(c.Trains))
	for _, tj := range c.Trains {
		t, err := tj.build(known)
		if err != nil {
			return nil, nil, fmt.Errorf("train %s: %w", tj.Number, err)
		}
		if numbers[t.Number] {
			return nil, nil, fmt.Errorf("train %s: duplicate", t.Number)
		}
		numbers[t.Number] = true
		trains = append(trains, t)
	}
	return stations, trains, nil
}

func (tj TrainJSON) build(stations map[string]bool) (reservation.Train, error) {
	t := reservation.Train{Number: strings.TrimSpace(tj.Number), Name: tj.Name, Type: tj.Type}
	if t.Number == "" || t.Name == "" {
		return t, fmt.Errorf("number and name are required")
	}
	if len(tj.Stops) < 2 {
		return t, fmt.Errorf("needs at least 2 stops, has %d", len(tj.Stops))
	}
	if len(tj.Classes) == 0 {
		return t, fmt.Errorf("no classes")
	}

	for _, d := range tj.RunsOn {
		wd, err := parseWeekday(d)
		if err != nil {
			return t, err
		}
		t.RunsOn = append(t.RunsOn, wd)
	}

	prevKm := -1
	for i, sj := range tj.Stops {
		code := strings.ToUpper(strings.TrimSpace(sj.Station))
		if !stations[code] {
			return t, fmt.Errorf("stop %d: unknown station %q", i+1, sj.Station)
		}
		if sj.Arrival == "" && sj.Departure == "" {
			return t, fmt.Errorf("stop %s: arrival or departure required", code)
		}
		for _, clock := range []string{sj.Arrival, sj.Departure} {
			if clock == "" {
				continue
			}
			if _, err := reservation.ParseClock(clock); err != nil {
				return t, fmt.Errorf("stop %s: %w", code, err)
			}
		}
		if sj.DistanceKm <= prevKm {
			return t, fmt.Errorf("stop %s: distance must increase along the route", code)
		}
		prevKm = sj.DistanceKm
		t.Stops = append(t.Stops, reservation.Stop{
			Seq:         i + 1,
			StationCode: code,
			Arrival:     sj.Arrival,
			Departure:   sj.Departure,
			DayOffset:   sj.Day,
			DistanceKm:  sj.DistanceKm,
			Platform:    sj.Platform,
		})
	}
	if t.Stops[0].Departure == "" {
		return t, fmt.Errorf("origin %s has no departure time", t.Stops[0].StationCode)
	}

	for _, cj := range tj.Classes {
		class, err := reservation.ParseClassType(cj.Class)
		if err != nil {
			return t, err
		}
		if _, dup := t.Class(class); dup {
			return t, fmt.Errorf("class %s listed twice", class)
		}
		fare, err := decimal.NewFromString(cj.BaseFare)
		if err != nil || fare.IsNegative() {
			return t, fmt.Errorf("class %s: bad base fare %q", class, cj.BaseFare)
		}
		if cj.TotalSeats < 0 || cj.RACCapacity < 0 {
			return t, fmt.Errorf("class %s: capacities must not be negative", class)
		}
		per := cj.SeatsPerCoach
		if per <= 0 {
			per = cj.TotalSeats
		}
		t.Classes = append(t.Classes, reservation.TrainClass{
			Class:         class,
			BaseFare:      fare,
			TotalSeats:    cj.TotalSeats,
			RACCapacity:   cj.RACCapacity,
			SeatsPerCoach: per,
			CoachPrefix:   cj.CoachPrefix,
		})
	}
	return t, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// parseWeekday accepts "Mon", "monday", "MON".
func parseWeekday(s string) (time.Weekday, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	if len(k) >= 3 {
		if wd, ok := weekdays[k[:3]]; ok && strings.HasPrefix(strings.ToLower(wd.String()), k) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown running day %q", s)
}
