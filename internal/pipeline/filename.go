package pipeline

import (
	"strings"
	"time"
)

const (
	rawPrefix     = "redfin_data_"
	cleanedPrefix = "cleaned_"

	// filenameLayout is day, month, year, hour, minute, second.
	filenameLayout = "02012006150405"
)

// RawFilename names the raw artifact for a fetch started at t, e.g.
// redfin_data_15032024093000.csv. t is used in its own location.
func RawFilename(t time.Time) string {
	return rawPrefix + t.Format(filenameLayout) + ".csv"
}

// CleanedFilename names the transformed artifact derived from raw.
func CleanedFilename(raw string) string {
	return cleanedPrefix + raw
}

// IsRawFilename reports whether name has the shape RawFilename produces.
func IsRawFilename(name string) bool {
	if !strings.HasPrefix(name, rawPrefix) || !strings.HasSuffix(name, ".csv") {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, rawPrefix), ".csv")
	_, err := time.Parse(filenameLayout, stamp)
	return err == nil
}
