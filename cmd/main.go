package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opentransit/timetable"
	"github.com/opentransit/timetable/parse"
	"github.com/opentransit/timetable/storage"
)

var rootCmd = &cobra.Command{
	Use:          "timetable",
	Short:        "Transit timetable tool",
	Long:         "Builds a transit timetable from a static GTFS feed, optionally applies realtime updates, and prints the result",
	SilenceUsage: true,
}

var (
	staticPath string
	feedID     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&staticPath, "static", "s", "", "Path to zipped static GTFS feed")
	rootCmd.PersistentFlags().StringVarP(&feedID, "feed-id", "f", "default", "Feed ID")

	rootCmd.AddCommand(showCmd)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if os.Getenv("TIMETABLE_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Loads the static feed into an in-memory store and builds the
// schedule.
func loadSchedule() (*timetable.Schedule, *parse.StaticSummary, error) {
	if staticPath == "" {
		return nil, nil, fmt.Errorf("static feed path is required")
	}

	buf, err := os.ReadFile(staticPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading static feed: %w", err)
	}

	store := storage.NewMemoryStorage()
	writer, err := store.GetWriter(feedID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting writer: %w", err)
	}

	summary, err := parse.ParseStatic(writer, buf)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing static feed: %w", err)
	}

	reader, err := store.GetReader(feedID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting reader: %w", err)
	}

	schedule, err := timetable.NewSchedule(feedID, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("building schedule: %w", err)
	}

	return schedule, summary, nil
}
