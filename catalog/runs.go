package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/seat-engine/reservation"
)

// Store is what seeding and run opening need.
type Store interface {
	reservation.Store
	reservation.CatalogWriter
}

// ErrNotRunning is returned when a run is opened for a day the train does
// not run on.
var ErrNotRunning = errors.New("train does not run on this date")

// Seed writes every station and train of c. It is safe to repeat.
func Seed(ctx context.Context, w reservation.CatalogWriter, c *Catalog) error {
	stations, trains, err := c.Build()
	if err != nil {
		return err
	}
	for _, s := range stations {
		if err := w.SaveStation(ctx, s); err != nil {
			return fmt.Errorf("seed station %s: %w", s.Code, err)
		}
	}
	for _, t := range trains {
		if err := w.SaveTrain(ctx, t); err != nil {
			return fmt.Errorf("seed train %s: %w", t.Number, err)
		}
	}
	return nil
}

// Inventories builds the empty inventories of one run from the train's class
// templates.
func Inventories(t *reservation.Train, date reservation.Date) []reservation.ClassInventory {
	out := make([]reservation.ClassInventory, 0, len(t.Classes))
	for _, tc := range t.Classes {
		key := reservation.InventoryKey{TrainNumber: t.Number, Date: date, Class: tc.Class}
		out = append(out, reservation.NewInventory(key, tc))
	}
	return out
}

// OpenRun opens the run of train number on date. created is false when the
// run was already open.
func OpenRun(ctx context.Context, s Store, number string, date reservation.Date) (created bool, err error) {
	var train *reservation.Train
	err = s.Read(ctx, func(r reservation.Reader) error {
		var err error
		train, err = r.Train(ctx, number)
		return err
	})
	if err != nil {
		return false, err
	}
	return openRun(ctx, s, train, date)
}

func openRun(ctx context.Context, w reservation.CatalogWriter, t *reservation.Train, date reservation.Date) (bool, error) {
	if !t.RunsOnDay(date.Weekday()) {
		return false, fmt.Errorf("train %s on %s (%s): %w", t.Number, date, date.Weekday(), ErrNotRunning)
	}
	dep, err := t.DepartureAt(date)
	if err != nil {
		return false, err
	}
	run := reservation.Run{TrainNumber: t.Number, Date: date, DepartureAt: dep}
	return w.OpenRun(ctx, run, Inventories(t, date))
}

// OpenRuns opens runs for every train on the days it runs in
// [from, from+days). It returns how many runs were newly opened.
func OpenRuns(ctx context.Context, s Store, from reservation.Date, days int) (int, error) {
	var trains []reservation.Train
	if err := s.Read(ctx, func(r reservation.Reader) error {
		var err error
		trains, err = r.Trains(ctx)
		return err
	}); err != nil {
		return 0, err
	}

	opened := 0
	for i := range trains {
		t := &trains[i]
		for d := 0; d < days; d++ {
			date := from.AddDays(d)
			if !t.RunsOnDay(date.Weekday()) {
				continue
			}
			created, err := openRun(ctx, s, t, date)
			if err != nil {
				return opened, err
			}
			if created {
				opened++
			}
		}
	}
	return opened, nil
}
