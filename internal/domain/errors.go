package domain

import "fmt"

// ProjectionError reports a missing or unparseable coordinate reference system.
type ProjectionError struct {
	CRS    CRS
	Reason string
	Err    error
}

func (e *ProjectionError) Error() string {
	msg := fmt.Sprintf("projection %q: %s", e.CRS, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProjectionError) Unwrap() error { return e.Err }

// RasterReadError reports a raster that cannot be opened or decoded.
type RasterReadError struct {
	Path string
	Err  error
}

func (e *RasterReadError) Error() string {
	return fmt.Sprintf("read raster %s: %v", e.Path, e.Err)
}

func (e *RasterReadError) Unwrap() error { return e.Err }

// OverlayGeometryError reports a polygon pair whose intersection could not be
// computed. It is recovered per pair and never aborts a batch.
type OverlayGeometryError struct {
	SourceIndex int
	AttributeID string
	Err         error
}

func (e *OverlayGeometryError) Error() string {
	return fmt.Sprintf("overlay source %d with attribute %s: %v", e.SourceIndex, e.AttributeID, e.Err)
}

func (e *OverlayGeometryError) Unwrap() error { return e.Err }

// EmptyDatasetError reports an operation that needs at least one record.
type EmptyDatasetError struct {
	Op string
}

func (e *EmptyDatasetError) Error() string {
	return e.Op + ": empty dataset"
}

// PublishError reports a failed write to the object store.
type PublishError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// FetchError reports a consumer-side download failure.
type FetchError struct {
	URL        string
	Date       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (date %s): status %d", e.URL, e.Date, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s (date %s): %v", e.URL, e.Date, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError reports a downloaded file that could not be decoded. It is kept
// apart from FetchError so callers can tell transport from content failures.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DayError wraps a failure that caused one forecast day to be skipped.
type DayError struct {
	Day   DayLabel
	Stage string
	Err   error
}

func (e *DayError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Day, e.Stage, e.Err)
}

func (e *DayError) Unwrap() error { return e.Err }
