// Command fetch downloads a published day layer the way a dashboard would and
// prints a short summary.
//
// Usage:
//
//	go run ./cmd/fetch -day 1 [-date 20240701] [-top 5]
//
// It exits with status 2 when the file is unavailable or undecodable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"time"
	_ "time/tzdata"

	"github.com/couchcryptid/heat-risk-etl/internal/adapter/cdn"
	"github.com/couchcryptid/heat-risk-etl/internal/adapter/geoparquet"
	"github.com/couchcryptid/heat-risk-etl/internal/config"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/observability"
)

func main() {
	day := flag.Int("day", 1, "forecast day (1-7)")
	date := flag.String("date", "", "publication date YYYYMMDD (default: today in TIMEZONE)")
	top := flag.Int("top", 5, "number of highlighted polygons to list")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *day < 1 || *day > domain.ForecastDayCount {
		fmt.Fprintf(os.Stderr, "day must be between 1 and %d\n", domain.ForecastDayCount)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	client := cdn.NewClient(cfg.CDNBaseURL, cfg.CDNTimeout, cfg.CDNCacheTTL, cfg.Location, logger)
	label := domain.DayLabelFor(*day)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CDNTimeout)
	defer cancel()

	var layer domain.ResultLayer
	if *date == "" {
		layer, err = client.Latest(ctx, label)
	} else {
		var t time.Time
		t, err = time.ParseInLocation("20060102", *date, cfg.Location)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -date: %v\n", err)
			os.Exit(1)
		}
		layer, err = client.Fetch(ctx, label, t)
	}
	if err != nil {
		var fe *domain.FetchError
		var de *domain.DecodeError
		switch {
		case errors.As(err, &fe), errors.As(err, &de):
			fmt.Printf("data unavailable: %v\n", err)
			os.Exit(2)
		default:
			fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
			os.Exit(1)
		}
	}

	printSummary(layer, cfg.Indicator, *top)
}

func printSummary(layer domain.ResultLayer, indicator string, top int) {
	fmt.Printf("%s: %d polygons, %d highlighted\n", layer.Day, len(layer.Records), layer.HighlightCount())
	fmt.Printf("columns: %v\n", geoparquet.Columns(layer))

	counts := make(map[int]int)
	for _, r := range layer.Records {
		counts[r.Value]++
	}
	levels := make([]int, 0, len(counts))
	for v := range counts {
		levels = append(levels, v)
	}
	slices.Sort(levels)
	for _, v := range levels {
		fmt.Printf("  heat level %d: %d polygons\n", v, counts[v])
	}

	var hot []domain.WeightedPolygon
	for _, r := range layer.Records {
		if r.Highlight {
			hot = append(hot, r)
		}
	}
	slices.SortFunc(hot, func(a, b domain.WeightedPolygon) int {
		switch av, bv := a.Weighted[indicator], b.Weighted[indicator]; {
		case av > bv:
			return -1
		case av < bv:
			return 1
		}
		return 0
	})
	for i, r := range hot[:max(0, min(top, len(hot)))] {
		b := r.Geometry.Bounds()
		fmt.Printf("  #%d level %d %s=%.3f bbox=[%.3f %.3f %.3f %.3f]\n",
			i+1, r.Value, indicator, r.Weighted[indicator], b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
	}
}
