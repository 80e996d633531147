package utils

import (
	"fmt"
	"math/rand"
	"time"
)

func GenerateUniqueFilename() string {
	timestamp := time.Now().UnixNano()
	random := rand.Intn(1000)
	return fmt.Sprintf("%d_%d", timestamp, random)
}

// ParseDate reads a YYYY-MM-DD string as a UTC calendar day.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", value)
	}
	return t.UTC(), nil
}

// DayWindowUTC returns [00:00, next day 00:00) for t's UTC calendar day.
func DayWindowUTC(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
