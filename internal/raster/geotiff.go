// Package raster reads single-band categorical GeoTIFFs and converts them to
// polygon layers.
package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/geo"
	"golang.org/x/image/tiff"
)

// TIFF and GeoTIFF tag numbers.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagSamplesPerPixel     = 277
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// GeoKey identifiers.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	rasterPixelIsPoint = 2
	modelGeographic    = 2
	userDefined        = 32767
)

// ReadOptions tunes GeoTIFF decoding.
type ReadOptions struct {
	// DefaultCRS applies when the file declares no EPSG code.
	DefaultCRS domain.CRS
	// NoData overrides or supplies the nodata sentinel when the file has none.
	NoData *int32
}

// ReadGeoTIFF reads band 1 of a GeoTIFF into a RasterGrid.
func ReadGeoTIFF(path string, opts ReadOptions) (*domain.RasterGrid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.RasterReadError{Path: path, Err: err}
	}
	grid, err := DecodeGeoTIFF(data, opts)
	if err != nil {
		return nil, &domain.RasterReadError{Path: path, Err: err}
	}
	return grid, nil
}

// DecodeGeoTIFF decodes an in-memory GeoTIFF.
func DecodeGeoTIFF(data []byte, opts ReadOptions) (*domain.RasterGrid, error) {
	tags, err := readTags(data)
	if err != nil {
		return nil, err
	}
	if n, ok := tags.uint(tagSamplesPerPixel); ok && n == 0 {
		return nil, errors.New("raster has zero bands")
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}
	signed := false
	if f, ok := tags.uint(tagSampleFormat); ok && f == 2 {
		signed = true
	}
	grid, err := gridFromImage(img, signed)
	if err != nil {
		return nil, err
	}

	grid.Transform, err = tags.affine()
	if err != nil {
		return nil, err
	}

	grid.CRS = tags.crs()
	if grid.CRS == "" {
		grid.CRS = opts.DefaultCRS
	}

	if nd, ok := tags.noData(); ok {
		grid.NoData, grid.HasNoData = nd, true
	}
	if opts.NoData != nil {
		grid.NoData, grid.HasNoData = *opts.NoData, true
	}
	return grid, nil
}

func gridFromImage(img image.Image, signed bool) (*domain.RasterGrid, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("raster has no cells")
	}
	grid := &domain.RasterGrid{Width: w, Height: h, Values: make([]int32, w*h)}

	switch im := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := im.Pix[y*im.Stride+x]
				if signed {
					grid.Values[y*w+x] = int32(int8(v))
				} else {
					grid.Values[y*w+x] = int32(v)
				}
			}
		}
	case *image.Paletted:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				grid.Values[y*w+x] = int32(im.Pix[y*im.Stride+x])
			}
		}
	case *image.Gray16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*im.Stride + 2*x
				v := uint16(im.Pix[i])<<8 | uint16(im.Pix[i+1])
				if signed {
					grid.Values[y*w+x] = int32(int16(v))
				} else {
					grid.Values[y*w+x] = int32(v)
				}
			}
		}
	case *image.NRGBA:
		// Multi-band file: band 1 only.
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				grid.Values[y*w+x] = int32(im.Pix[y*im.Stride+4*x])
			}
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				grid.Values[y*w+x] = int32(im.Pix[y*im.Stride+4*x])
			}
		}
	default:
		return nil, fmt.Errorf("unsupported pixel layout %T", img)
	}
	return grid, nil
}

// tagSet holds the raw values of the first IFD.
type tagSet struct {
	shorts  map[uint16][]uint32
	doubles map[uint16][]float64
	ascii   map[uint16]string
}

func (t tagSet) uint(tag uint16) (uint32, bool) {
	v := t.shorts[tag]
	if len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

func (t tagSet) affine() (domain.Affine, error) {
	if m := t.doubles[tagModelTransformation]; len(m) >= 16 {
		return domain.Affine{A: m[3], B: m[0], C: m[1], D: m[7], E: m[4], F: m[5]}, nil
	}
	scale := t.doubles[tagModelPixelScale]
	tie := t.doubles[tagModelTiepoint]
	if len(scale) < 2 || len(tie) < 6 {
		return domain.Affine{}, errors.New("raster has no georeferencing")
	}
	sx, sy := scale[0], scale[1]
	a := domain.Affine{
		A: tie[3] - tie[0]*sx, B: sx,
		D: tie[4] + tie[1]*sy, F: -sy,
	}
	if t.geoKey(keyRasterType) == rasterPixelIsPoint {
		a.A -= sx / 2
		a.D += sy / 2
	}
	return a, nil
}

func (t tagSet) geoKey(id uint32) uint32 {
	dir := t.shorts[tagGeoKeyDirectory]
	if len(dir) < 4 {
		return 0
	}
	n := int(dir[3])
	for i := 0; i < n && 4+4*i+3 < len(dir); i++ {
		e := dir[4+4*i : 4+4*i+4]
		// Location 0 means the value is stored inline.
		if e[0] == id && e[1] == 0 {
			return e[3]
		}
	}
	return 0
}

func (t tagSet) crs() domain.CRS {
	if code := t.geoKey(keyProjectedType); code != 0 && code != userDefined {
		return geo.EPSG(int(code))
	}
	if code := t.geoKey(keyGeographicType); code != 0 && code != userDefined {
		return geo.EPSG(int(code))
	}
	if t.geoKey(keyModelType) == modelGeographic {
		return domain.CRSGeographic
	}
	return ""
}

func (t tagSet) noData() (int32, bool) {
	s := strings.Trim(strings.TrimSpace(t.ascii[tagGDALNoData]), "\x00")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return int32(f), true
}

// readTags parses the first IFD of a classic TIFF.
func readTags(data []byte) (tagSet, error) {
	t := tagSet{
		shorts:  make(map[uint16][]uint32),
		doubles: make(map[uint16][]float64),
		ascii:   make(map[uint16]string),
	}
	if len(data) < 8 {
		return t, errors.New("file too short for TIFF header")
	}
	var bo binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return t, errors.New("not a TIFF file")
	}
	if magic := bo.Uint16(data[2:4]); magic != 42 {
		return t, fmt.Errorf("unsupported TIFF variant %d", magic)
	}
	off := int(bo.Uint32(data[4:8]))
	if off+2 > len(data) {
		return t, errors.New("IFD offset out of range")
	}
	n := int(bo.Uint16(data[off : off+2]))
	for i := 0; i < n; i++ {
		e := off + 2 + 12*i
		if e+12 > len(data) {
			return t, errors.New("truncated IFD")
		}
		tag := bo.Uint16(data[e : e+2])
		typ := bo.Uint16(data[e+2 : e+4])
		count := int(bo.Uint32(data[e+4 : e+8]))

		size := typeSize(typ) * count
		if size == 0 {
			continue
		}
		val := data[e+8 : e+12]
		if size > 4 {
			p := int(bo.Uint32(val))
			if p+size > len(data) {
				return t, fmt.Errorf("tag %d value out of range", tag)
			}
			val = data[p : p+size]
		}

		switch typ {
		case 2: // ASCII
			t.ascii[tag] = string(val[:count])
		case 3: // SHORT
			vs := make([]uint32, count)
			for j := range vs {
				vs[j] = uint32(bo.Uint16(val[2*j:]))
			}
			t.shorts[tag] = vs
		case 4: // LONG
			vs := make([]uint32, count)
			for j := range vs {
				vs[j] = bo.Uint32(val[4*j:])
			}
			t.shorts[tag] = vs
		case 12: // DOUBLE
			vs := make([]float64, count)
			for j := range vs {
				vs[j] = math.Float64frombits(bo.Uint64(val[8*j:]))
			}
			t.doubles[tag] = vs
		}
	}
	return t, nil
}

func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7:
		return 1
	case 3, 8:
		return 2
	case 4, 9, 11:
		return 4
	case 5, 10, 12:
		return 8
	}
	return 0
}
