// Package domain models the heat-risk forecast and health-index data that the
// pipeline joins.
//
// # Data Sources
//
// HeatRisk rasters come from the NOAA Weather Prediction Center (WPC), one
// GeoTIFF per forecast day, at
// https://www.wpc.ncep.noaa.gov/heatrisk/data/HeatRisk_<N>_Mercator.tif for
// N = 1..7. Each is a single band of small integers in a web-mercator
// projection (EPSG:3857).
//
// Health-index attributes come from the CDC Heat & Health Index (HHI), a
// spreadsheet with one row per ZIP Code Tabulation Area (ZCTA). Boundaries come
// from the Census cartographic boundary file cb_2020_us_zcta520_500k. The two
// are inner-joined on the 5-digit ZCTA code.
//
// # HeatRisk Levels
//
//	0  little to no risk from expected heat
//	1  minor: affects those extremely sensitive to heat
//	2  moderate: affects most individuals sensitive to heat
//	3  major: affects anyone without effective cooling or hydration
//	4  extreme: rare, long-duration heat with little overnight relief
//
// # Output Naming
//
// Each forecast day is published as
//
//	heat_risk_analysis_{day}_{YYYYMMDD}_{HHMMSS}.geoparquet
//
// plus a date-only alias without the time part. Consumers build the alias name
// from a day label such as "Day 1" and a calendar date. See [ObjectKey].
//
// # Absent Values
//
// Weighted and dominant attribute maps omit a column when no data supports
// it. A polygon that overlaps no attribute boundary has empty maps; its values
// are absent, never zero.
package domain
