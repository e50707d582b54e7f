package timetable

import "errors"

var (
	// A trip's stop times are not monotonically increasing. Fatal
	// for that trip at construction time.
	ErrMalformedSchedule = errors.New("stop times not monotonically increasing")

	// An update references a trip that cannot be located by
	// (feed ID, trip ID, service date).
	ErrUnknownTrip = errors.New("trip not found")

	// An update references a GTFS stop_sequence that does not
	// exist on the target trip.
	ErrUnknownStopSequence = errors.New("stop sequence not found on trip")

	// Applying an update produced negative dwell or running time.
	// The update is dropped and the trip keeps its previous state.
	ErrInconsistentUpdate = errors.New("update breaks time ordering")

	// An added or modified trip does not fit any existing pattern
	// and pattern synthesis is disabled.
	ErrPatternStructureRequired = errors.New("no pattern fits trip and synthesis is disabled")

	// A mutation was attempted on a committed snapshot. This is a
	// programming error, not a data error.
	ErrSnapshotFrozen = errors.New("snapshot is committed and read-only")
)
