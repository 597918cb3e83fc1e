// Command genmock writes a small synthetic input set so the ETL can run
// offline: seven forecast-day GeoTIFFs, a ZCTA boundary shapefile, and a
// health-index CSV keyed by ZCTA. Output is deterministic for a given seed.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock
//
// then run the ETL with
//
//	DATA_DIR=data/mock RASTER_MAX_AGE=0 \
//	ZCTA_SOURCE=data/mock/zcta HHI_SOURCE=data/mock/hhi.csv go run ./cmd/etl
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/raster"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

// Extent of the synthetic region in degrees (roughly the lower Mississippi
// valley).
const (
	west, south = -95.0, 29.0
	east, north = -89.0, 33.0

	cellsX, cellsY = 60, 40
	zctaX, zctaY   = 12, 8

	noData = 255
)

var states = []string{"TX", "LA", "MS", "AR"}

type zctaShape struct {
	geom.Polygon
	ZCTA5CE20 string
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/mock", "output directory")
	seed := flag.Uint64("seed", 20240701, "random seed")
	flag.Parse()

	if err := os.MkdirAll(filepath.Join(*out, "zcta"), 0o755); err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(*seed, *seed>>1))

	for _, day := range domain.ForecastDays() {
		path := filepath.Join(*out, string(day)+".tif")
		if err := writeRaster(path, day.Number(), rng); err != nil {
			return fmt.Errorf("writing %s: %w", day, err)
		}
		log.Printf("wrote %s", path)
	}

	keys, err := writeBoundaries(filepath.Join(*out, "zcta", "zcta.shp"))
	if err != nil {
		return fmt.Errorf("writing boundaries: %w", err)
	}
	log.Printf("wrote %d ZCTA polygons", len(keys))

	if err := writeHealthIndex(filepath.Join(*out, "hhi.csv"), keys, rng); err != nil {
		return fmt.Errorf("writing health index: %w", err)
	}
	log.Printf("wrote %s", filepath.Join(*out, "hhi.csv"))
	return nil
}

// writeRaster draws a heat dome whose centre drifts east and whose peak
// weakens with lead time. The outer ring of cells is nodata.
func writeRaster(path string, day int, rng *rand.Rand) error {
	cx := 0.3 + 0.08*float64(day)
	cy := 0.4 + 0.2*rng.Float64()
	peak := 5.0 - 0.3*float64(day)

	grid := &domain.RasterGrid{
		Width:     cellsX,
		Height:    cellsY,
		Values:    make([]int32, cellsX*cellsY),
		NoData:    noData,
		HasNoData: true,
		Transform: domain.Affine{
			A: west, B: (east - west) / cellsX,
			D: north, F: -(north - south) / cellsY,
		},
		CRS: domain.CRSGeographic,
	}
	for row := range cellsY {
		for col := range cellsX {
			i := row*cellsX + col
			if row == 0 || col == 0 || row == cellsY-1 || col == cellsX-1 {
				grid.Values[i] = noData
				continue
			}
			dx := float64(col)/cellsX - cx
			dy := float64(row)/cellsY - cy
			v := peak*math.Exp(-(dx*dx+dy*dy)/0.08) + 0.4*rng.NormFloat64()
			grid.Values[i] = int32(max(0, min(4, math.Round(v))))
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := raster.WriteGeoTIFF(f, grid); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeBoundaries tiles the extent with rectangular ZCTAs and returns their
// keys in row-major order.
func writeBoundaries(path string) ([]string, error) {
	enc, err := shp.NewEncoder(path, zctaShape{})
	if err != nil {
		return nil, err
	}
	w := (east - west) / zctaX
	h := (north - south) / zctaY
	keys := make([]string, 0, zctaX*zctaY)
	for j := range zctaY {
		for i := range zctaX {
			x0, y0 := west+float64(i)*w, south+float64(j)*h
			key := fmt.Sprintf("%05d", 70000+j*zctaX+i)
			poly := geom.Polygon{{
				{X: x0, Y: y0}, {X: x0 + w, Y: y0}, {X: x0 + w, Y: y0 + h}, {X: x0, Y: y0 + h}, {X: x0, Y: y0},
			}}
			if err := enc.Encode(zctaShape{Polygon: poly, ZCTA5CE20: key}); err != nil {
				enc.Close()
				return nil, err
			}
			keys = append(keys, key)
		}
	}
	enc.Close()
	return keys, nil
}

// writeHealthIndex writes one row per key. Every tenth key is left out so the
// join has unmatched boundaries.
func writeHealthIndex(path string, keys []string, rng *rand.Rand) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"ZCTA", "STATE", "POP", "OVERALL_SCORE", "SENS_SCORE"}); err != nil {
		f.Close()
		return err
	}
	for i, key := range keys {
		if i%10 == 9 {
			continue
		}
		rec := []string{
			key,
			states[(i%zctaX)*len(states)/zctaX],
			strconv.Itoa(500 + rng.IntN(40000)),
			strconv.FormatFloat(rng.Float64(), 'f', 4, 64),
			strconv.FormatFloat(rng.Float64(), 'f', 4, 64),
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
