package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	"github.com/couchcryptid/heat-risk-etl/internal/geo"
)

// WriteGeoTIFF encodes grid as an uncompressed 16-bit single-band GeoTIFF.
// Values and the nodata sentinel must fit in 0..65535 and the transform must
// be north-up.
func WriteGeoTIFF(w io.Writer, grid *domain.RasterGrid) error {
	if grid.Transform.C != 0 || grid.Transform.E != 0 {
		return errors.New("rotated transforms are not supported")
	}
	for _, v := range grid.Values {
		if v < 0 || v > math.MaxUint16 {
			return fmt.Errorf("value %d does not fit in 16 bits", v)
		}
	}
	code, err := epsgCode(grid.CRS)
	if err != nil {
		return err
	}
	isGeo, err := geo.IsGeographic(grid.CRS)
	if err != nil {
		return err
	}

	bo := binary.LittleEndian
	type entry struct {
		tag, typ uint16
		count    uint32
		payload  []byte
	}
	u16 := func(vs ...uint16) []byte {
		b := make([]byte, 2*len(vs))
		for i, v := range vs {
			bo.PutUint16(b[2*i:], v)
		}
		return b
	}
	u32 := func(v uint32) []byte {
		b := make([]byte, 4)
		bo.PutUint32(b, v)
		return b
	}
	f64 := func(vs ...float64) []byte {
		b := make([]byte, 8*len(vs))
		for i, v := range vs {
			bo.PutUint64(b[8*i:], math.Float64bits(v))
		}
		return b
	}

	modelType, crsKey := uint16(1), uint16(keyProjectedType)
	if isGeo {
		modelType, crsKey = modelGeographic, keyGeographicType
	}
	pixelBytes := uint32(grid.Width * grid.Height * 2)

	entries := []entry{
		{tagImageWidth, 4, 1, u32(uint32(grid.Width))},
		{tagImageLength, 4, 1, u32(uint32(grid.Height))},
		{tagBitsPerSample, 3, 1, u16(16)},
		{259, 3, 1, u16(1)}, // Compression: none
		{262, 3, 1, u16(1)}, // Photometric: BlackIsZero
		{273, 4, 1, nil},    // StripOffsets, patched below
		{tagSamplesPerPixel, 3, 1, u16(1)},
		{278, 4, 1, u32(uint32(grid.Height))}, // RowsPerStrip
		{279, 4, 1, u32(pixelBytes)},          // StripByteCounts
		{tagModelPixelScale, 12, 3, f64(grid.Transform.B, -grid.Transform.F, 0)},
		{tagModelTiepoint, 12, 6, f64(0, 0, 0, grid.Transform.A, grid.Transform.D, 0)},
		{tagGeoKeyDirectory, 3, 16, u16(
			1, 1, 0, 3,
			keyModelType, 0, 1, modelType,
			keyRasterType, 0, 1, 1,
			crsKey, 0, 1, uint16(code),
		)},
	}
	if grid.HasNoData {
		s := strconv.Itoa(int(grid.NoData)) + "\x00"
		entries = append(entries, entry{tagGDALNoData, 2, uint32(len(s)), []byte(s)})
	}

	ifdSize := 2 + 12*len(entries) + 4
	extraOff := 8 + ifdSize
	var extra bytes.Buffer
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.payload) > 4 {
			offsets[i] = uint32(extraOff + extra.Len())
			extra.Write(e.payload)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
		}
	}
	pixelOff := uint32(extraOff + extra.Len())
	entries[5].payload = u32(pixelOff)

	var buf bytes.Buffer
	buf.WriteString("II")
	buf.Write(u16(42))
	buf.Write(u32(8))
	buf.Write(u16(uint16(len(entries))))
	for i, e := range entries {
		buf.Write(u16(e.tag, e.typ))
		buf.Write(u32(e.count))
		if len(e.payload) > 4 {
			buf.Write(u32(offsets[i]))
			continue
		}
		inline := make([]byte, 4)
		copy(inline, e.payload)
		buf.Write(inline)
	}
	buf.Write(u32(0)) // no further IFDs
	buf.Write(extra.Bytes())

	pix := make([]byte, pixelBytes)
	for i, v := range grid.Values {
		bo.PutUint16(pix[2*i:], uint16(v))
	}
	buf.Write(pix)

	_, err = w.Write(buf.Bytes())
	return err
}

func epsgCode(crs domain.CRS) (int, error) {
	s, ok := strings.CutPrefix(strings.ToUpper(string(crs)), "EPSG:")
	if !ok {
		return 0, &domain.ProjectionError{CRS: crs, Reason: "only EPSG codes can be written"}
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 || code > math.MaxUint16 {
		return 0, &domain.ProjectionError{CRS: crs, Reason: "invalid EPSG code", Err: err}
	}
	return code, nil
}
