package traveltek

import (
	"fmt"
	"time"
)

// DocPath builds the remote path for a sailing's pricing document following
// the Traveltek directory convention:
//
//	{year}/{month}/{lineId}/{shipId}/{codetocruiseid}.json
//
// Month is not zero-padded on the feed.
func DocPath(lineID, shipID int, externalID string, sailDate time.Time) string {
	return fmt.Sprintf("%d/%d/%d/%d/%s.json",
		sailDate.Year(), int(sailDate.Month()), lineID, shipID, externalID)
}

// LineDir builds the directory holding all of a line's ships for a period.
func LineDir(lineID int, year int, month time.Month) string {
	return fmt.Sprintf("%d/%d/%d", year, int(month), lineID)
}
