package reservation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUERY FAÇADE - Read-only projections, one snapshot per call
// =============================================================================

type Query struct {
	store Store
}

func NewQuery(store Store) *Query {
	return &Query{store: store}
}

// BookingView is a booking with the run and route it travels on.
type BookingView struct {
	Booking     *Booking
	Train       *Train
	Run         *Run
	Origin      Station
	Destination Station
	ArrivesAt   time.Time
}

func (q *Query) FindByPnr(ctx context.Context, pnr string) (*BookingView, error) {
	pnr = strings.TrimSpace(pnr)
	if pnr == "" {
		return nil, &ValidationError{Field: "pnr", Reason: "required"}
	}
	var view *BookingView
	err := q.store.Read(ctx, func(r Reader) error {
		b, err := r.Booking(ctx, pnr)
		if err != nil {
			return err
		}
		train, err := r.Train(ctx, b.Key.TrainNumber)
		if err != nil {
			return err
		}
		run, err := r.Run(ctx, b.Key.TrainNumber, b.Key.Date)
		if err != nil {
			return err
		}
		view = &BookingView{Booking: b, Train: train, Run: run}
		if len(train.Stops) > 0 {
			if view.Origin, err = stationOrCode(ctx, r, train.Origin().StationCode); err != nil {
				return err
			}
			if view.Destination, err = stationOrCode(ctx, r, train.Terminus().StationCode); err != nil {
				return err
			}
			if view.ArrivesAt, err = train.ArrivalAt(b.Key.Date, len(train.Stops)-1); err != nil {
				return err
			}
		}
		return nil
	})
	return view, err
}

func (q *Query) FindTrain(ctx context.Context, number string) (*Train, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, &ValidationError{Field: "trainNumber", Reason: "required"}
	}
	var train *Train
	err := q.store.Read(ctx, func(r Reader) error {
		var err error
		train, err = r.Train(ctx, number)
		return err
	})
	return train, err
}

func (q *Query) Stations(ctx context.Context) ([]Station, error) {
	var out []Station
	err := q.store.Read(ctx, func(r Reader) error {
		var err error
		out, err = r.Stations(ctx)
		return err
	})
	return out, err
}

// =============================================================================
// SEARCH
// =============================================================================

type SearchRequest struct {
	Source      string
	Destination string
	Date        Date      // day of departure from Source
	Class       ClassType // optional
}

type ClassAvailability struct {
	Class          ClassType
	Fare           decimal.Decimal
	AvailableSeats int
	RACSeats       int
	WaitlistCount  int
}

type RunAvailability struct {
	Train      *Train
	Run        Run
	From       Stop
	To         Stop
	DepartsAt  time.Time
	ArrivesAt  time.Time
	DistanceKm int
	Classes    []ClassAvailability
}

func (r RunAvailability) Duration() time.Duration { return r.ArrivesAt.Sub(r.DepartsAt) }

// SearchRuns lists opened runs that call at Source before Destination and
// leave Source on the requested date.
func (q *Query) SearchRuns(ctx context.Context, req SearchRequest) ([]RunAvailability, error) {
	req.Source = strings.ToUpper(strings.TrimSpace(req.Source))
	req.Destination = strings.ToUpper(strings.TrimSpace(req.Destination))
	switch {
	case req.Source == "":
		return nil, &ValidationError{Field: "source", Reason: "required"}
	case req.Destination == "":
		return nil, &ValidationError{Field: "destination", Reason: "required"}
	case req.Source == req.Destination:
		return nil, &ValidationError{Field: "destination", Reason: "must differ from source"}
	case req.Date.IsZero():
		return nil, &ValidationError{Field: "date", Reason: "required"}
	}
	if req.Class != "" {
		c, err := ParseClassType(string(req.Class))
		if err != nil {
			return nil, err
		}
		req.Class = c
	}

	var out []RunAvailability
	err := q.store.Read(ctx, func(r Reader) error {
		for _, code := range []string{req.Source, req.Destination} {
			if _, err := r.Station(ctx, code); err != nil {
				return err
			}
		}
		trains, err := r.Trains(ctx)
		if err != nil {
			return err
		}
		for i := range trains {
			ra, ok, err := searchTrain(ctx, r, &trains[i], req)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, ra)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DepartsAt.Before(out[j].DepartsAt) })
	return out, nil
}

func searchTrain(ctx context.Context, r Reader, t *Train, req SearchRequest) (RunAvailability, bool, error) {
	from, to := t.StopAt(req.Source), t.StopAt(req.Destination)
	if from < 0 || to < 0 || from >= to {
		return RunAvailability{}, false, nil
	}
	serviceDate := req.Date.AddDays(-t.Stops[from].DayOffset)
	if !t.RunsOnDay(serviceDate.Weekday()) {
		return RunAvailability{}, false, nil
	}
	run, err := r.Run(ctx, t.Number, serviceDate)
	if errors.Is(err, ErrRunNotFound) {
		return RunAvailability{}, false, nil
	}
	if err != nil {
		return RunAvailability{}, false, err
	}
	invs, err := r.Inventories(ctx, t.Number, serviceDate)
	if err != nil {
		return RunAvailability{}, false, err
	}
	byClass := make(map[ClassType]ClassInventory, len(invs))
	for _, inv := range invs {
		byClass[inv.Key.Class] = inv
	}

	ra := RunAvailability{
		Train:      t,
		Run:        *run,
		From:       t.Stops[from],
		To:         t.Stops[to],
		DistanceKm: t.Stops[to].DistanceKm - t.Stops[from].DistanceKm,
	}
	if ra.DepartsAt, err = t.LeavesAt(serviceDate, from); err != nil {
		return RunAvailability{}, false, err
	}
	if ra.ArrivesAt, err = t.ArrivalAt(serviceDate, to); err != nil {
		return RunAvailability{}, false, err
	}
	for _, tc := range t.Classes {
		if req.Class != "" && tc.Class != req.Class {
			continue
		}
		inv, ok := byClass[tc.Class]
		if !ok {
			continue
		}
		ra.Classes = append(ra.Classes, ClassAvailability{
			Class:          tc.Class,
			Fare:           tc.BaseFare,
			AvailableSeats: inv.AvailableSeats(),
			RACSeats:       inv.FreeRAC(),
			WaitlistCount:  inv.WaitlistCount,
		})
	}
	if len(ra.Classes) == 0 {
		return RunAvailability{}, false, nil
	}
	return ra, true, nil
}

func stationOrCode(ctx context.Context, r Reader, code string) (Station, error) {
	s, err := r.Station(ctx, code)
	if errors.Is(err, ErrStationNotFound) {
		return Station{Code: code, Name: code}, nil
	}
	if err != nil {
		return Station{}, err
	}
	return *s, nil
}
