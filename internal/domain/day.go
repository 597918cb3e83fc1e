package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayLabel names a forecast day, e.g. "Day 1".
type DayLabel string

// ForecastDayCount is the number of daily HeatRisk rasters per run.
const ForecastDayCount = 7

// ForecastDays returns the labels for all forecast days in order.
func ForecastDays() []DayLabel {
	days := make([]DayLabel, ForecastDayCount)
	for i := range days {
		days[i] = DayLabelFor(i + 1)
	}
	return days
}

// DayLabelFor returns the label for forecast day n (1-based).
func DayLabelFor(n int) DayLabel {
	return DayLabel(fmt.Sprintf("Day %d", n))
}

// Number returns the 1-based day number, or 0 if the label is malformed.
func (d DayLabel) Number() int {
	n, err := strconv.Atoi(strings.TrimPrefix(string(d), "Day "))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

const keyPrefix = "heat_risk_analysis_"

// ObjectKey builds the published file name for a day. With withTime the name
// carries the run time (YYYYMMDD_HHMMSS); otherwise it carries only the date,
// which is the name consumers construct.
func ObjectKey(day DayLabel, t time.Time, withTime bool) string {
	layout := "20060102"
	if withTime {
		layout = "20060102_150405"
	}
	return keyPrefix + string(day) + "_" + t.Format(layout) + ".geoparquet"
}
