package uzak

import (
	"fmt"
	"strings"
	"time"
)

// monthLayout is the catalog's month-granularity date format.
const monthLayout = "2006-01"

// FileName derives the on-disk file name for an archive version, following
// the naming convention set out at https://download.kiwix.org/zim/README.
//
// The name is a pure function of (reference, date): two records with the same
// key always compute the same name. It doubles as the join key when matching
// a library-manager listing back to a record, so the derivation must stay
// stable over time.
func FileName(ref ArchiveReference, dateCreated time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.zim",
		ref.Project,
		ref.Language,
		strings.ReplaceAll(ref.Flavor, " ", "_"),
		FormatMonth(dateCreated),
	)
}

// ParseMonth converts a date in the format "YYYY-MM" to a time.Time in UTC,
// with the day fixed to 1.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return t, nil
}

// FormatMonth renders a month-granularity date as "YYYY-MM".
func FormatMonth(t time.Time) string {
	return t.Format(monthLayout)
}
