package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opentransit/timetable"
	"github.com/opentransit/timetable/model"
	"github.com/opentransit/timetable/parse"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Prints effective timetables for a service date",
	RunE:  show,
}

var (
	realtimePath string
	date         string
	routeID      string
)

func init() {
	showCmd.Flags().StringVarP(&realtimePath, "realtime", "r", "", "Path to a GTFS Realtime feed to apply")
	showCmd.Flags().StringVarP(&date, "date", "d", "", "Service date (YYYYMMDD, default today)")
	showCmd.Flags().StringVarP(&routeID, "route", "R", "", "Restrict to a specific route")
}

func show(cmd *cobra.Command, args []string) error {
	schedule, summary, err := loadSchedule()
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(summary.Timezone)
	if err != nil {
		return fmt.Errorf("loading feed timezone: %w", err)
	}

	serviceDate := model.ServiceDate(date)
	if date == "" {
		serviceDate = model.NewServiceDate(time.Now().In(loc))
	}
	if !serviceDate.Valid() {
		return fmt.Errorf("invalid service date %q", serviceDate)
	}

	if realtimePath != "" {
		buf, err := os.ReadFile(realtimePath)
		if err != nil {
			return fmt.Errorf("reading realtime feed: %w", err)
		}

		batch, stats, err := parse.ParseRealtime(feedID, [][]byte{buf}, loc, serviceDate)
		if err != nil {
			return fmt.Errorf("parsing realtime feed: %w", err)
		}

		applier := timetable.NewApplier(schedule)
		applier.SynthesizePatterns = true
		result, err := applier.Apply(batch)
		if err != nil {
			return fmt.Errorf("applying updates: %w", err)
		}
		fmt.Printf("feed timestamp %d: %d records applied, %d rejected\n",
			stats.Timestamp, result.Applied, result.Rejected)
	}

	for _, pattern := range schedule.Patterns() {
		if routeID != "" && (pattern.Route == nil || pattern.Route.ID != routeID) {
			continue
		}

		effective := schedule.Resolve(pattern, serviceDate)
		running, err := schedule.RunningTripTimes(effective, serviceDate)
		if err != nil {
			return fmt.Errorf("filtering timetable: %w", err)
		}
		if len(running) == 0 {
			continue
		}

		fmt.Printf("pattern %s (%d stops)\n", pattern.ID, pattern.NumStops())
		for _, tt := range running {
			status := tt.RealTimeState().String()
			fmt.Printf("  trip %s [%s]", tt.Trip().ID, status)
			for i := 0; i < tt.NumStops(); i++ {
				fmt.Printf(" %s", model.FormatSeconds(tt.ArrivalTime(i)))
				if tt.IsCancelledStop(i) {
					fmt.Printf("(skip)")
				}
			}
			fmt.Println()
		}
	}

	return nil
}
