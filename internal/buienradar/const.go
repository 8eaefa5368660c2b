// Package buienradar implements the configuration flow for the Buienradar
// rain radar data source.
package buienradar

import "time"

const (
	Domain = "buienradar"

	DefaultTimeframe = 60
	DefaultDimension = 512
	DefaultDelta     = 600
	DefaultCountry   = "NL"

	HomeLocationName = "Home"

	ConfCamera    = "camera"
	ConfDimension = "dimension"
	ConfDelta     = "delta"
	ConfCountry   = "country_code"
	ConfTimeframe = "timeframe"
	ConfLatitude  = "latitude"
	ConfLongitude = "longitude"
	ConfName      = "name"

	// camera image size range accepted by the radar API
	CameraDimMin = 120
	CameraDimMax = 700

	// next fetch after a successful or failed update
	ScheduleOK  = 10 * time.Minute
	ScheduleNOK = 2 * time.Minute
)

// SupportedCountryCodes are the countries the radar camera covers
var SupportedCountryCodes = []string{"NL", "BE"}
