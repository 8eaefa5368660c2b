package buienradar

import (
	"fmt"
	"strconv"
	"strings"

	"homeintegrations/internal/config"

	"go.uber.org/zap"
)

// ResultType tells the caller what a flow step produced
type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

// Error and abort reasons
const (
	ReasonAlreadyConfigured = "already_configured"
	ReasonInvalidLatitude   = "invalid_latitude"
	ReasonInvalidLongitude  = "invalid_longitude"
	ReasonInvalidDimension  = "invalid_dimension"
	ReasonInvalidCountry    = "invalid_country"
)

// Result is the outcome of a flow step
type Result struct {
	Type     ResultType             `json:"type"`
	StepID   string                 `json:"step_id,omitempty"`
	Defaults map[string]interface{} `json:"defaults,omitempty"`
	Errors   map[string]string      `json:"errors,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Entry    *config.Entry          `json:"entry,omitempty"`
}

// EntryStore is where configured entries are looked up and created
type EntryStore interface {
	Entries(domain string) []config.Entry
	AddEntry(entry config.Entry) (config.Entry, error)
}

// Flow handles the user and import steps of the configuration flow
type Flow struct {
	store  EntryStore
	home   config.HomeConfig
	logger *zap.Logger
}

// NewFlow creates a flow that defaults to the home location
func NewFlow(store EntryStore, home config.HomeConfig, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		store:  store,
		home:   home,
		logger: logger,
	}
}

// configuredInstances returns the dedupe keys of every existing entry:
// "<dimension>-<country>" for cameras and "<lat>-<lon>" otherwise
func (f *Flow) configuredInstances() map[string]bool {
	instances := make(map[string]bool)
	for _, entry := range f.store.Entries(Domain) {
		if entry.Bool(ConfCamera) {
			instances[cameraKey(entry.Data[ConfDimension], entry.Data[ConfCountry])] = true
		} else {
			instances[locationKey(entry.Data[ConfLatitude], entry.Data[ConfLongitude])] = true
		}
	}
	return instances
}

// StepUser handles a flow started by the user. A nil input shows the form.
func (f *Flow) StepUser(input map[string]interface{}) (Result, error) {
	errs := make(map[string]string)

	if input != nil {
		lat, latOK := config.ToFloat(input[ConfLatitude])
		lon, lonOK := config.ToFloat(input[ConfLongitude])
		if !latOK || lat < -90 || lat > 90 {
			errs[ConfLatitude] = ReasonInvalidLatitude
		}
		if !lonOK || lon < -180 || lon > 180 {
			errs[ConfLongitude] = ReasonInvalidLongitude
		}

		if len(errs) == 0 {
			if !f.configuredInstances()[locationKey(lat, lon)] {
				return f.createEntry(fmt.Sprintf("%s,%s", formatFloat(lat), formatFloat(lon)), map[string]interface{}{
					ConfLatitude:  lat,
					ConfLongitude: lon,
				})
			}
			errs["base"] = ReasonAlreadyConfigured
		}
	}

	return Result{
		Type:   ResultForm,
		StepID: "user",
		Defaults: map[string]interface{}{
			ConfLatitude:  f.home.Latitude,
			ConfLongitude: f.home.Longitude,
		},
		Errors: errs,
	}, nil
}

// StepImport creates an entry from static configuration, either a radar
// camera or a location
func (f *Flow) StepImport(input map[string]interface{}) (Result, error) {
	if input == nil {
		return Result{}, fmt.Errorf("import requires input")
	}

	data := make(map[string]interface{}, len(input))
	for k, v := range input {
		data[k] = v
	}

	instances := f.configuredInstances()
	if camera, _ := data[ConfCamera].(bool); camera {
		setDefault(data, ConfDimension, DefaultDimension)
		setDefault(data, ConfDelta, DefaultDelta)
		setDefault(data, ConfCountry, DefaultCountry)

		dimension, ok := config.ToFloat(data[ConfDimension])
		if !ok || dimension < CameraDimMin || dimension > CameraDimMax {
			return abort(ReasonInvalidDimension), nil
		}
		country := strings.ToUpper(fmt.Sprint(data[ConfCountry]))
		if !supportedCountry(country) {
			return abort(ReasonInvalidCountry), nil
		}
		data[ConfCountry] = country

		if instances[cameraKey(data[ConfDimension], country)] {
			return abort(ReasonAlreadyConfigured), nil
		}
	} else {
		setDefault(data, ConfTimeframe, DefaultTimeframe)
		if instances[locationKey(data[ConfLatitude], data[ConfLongitude])] {
			return abort(ReasonAlreadyConfigured), nil
		}
	}

	name, _ := data[ConfName].(string)
	if name == "" {
		name = HomeLocationName
	}
	return f.createEntry(name, data)
}

func (f *Flow) createEntry(title string, data map[string]interface{}) (Result, error) {
	entry, err := f.store.AddEntry(config.Entry{
		Domain: Domain,
		Title:  title,
		Data:   data,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create entry: %w", err)
	}

	f.logger.Info("Buienradar entry created",
		zap.String("entry_id", entry.EntryID),
		zap.String("title", title))
	return Result{Type: ResultCreateEntry, Title: title, Entry: &entry}, nil
}

func abort(reason string) Result {
	return Result{Type: ResultAbort, Reason: reason}
}

func setDefault(data map[string]interface{}, key string, value interface{}) {
	if _, ok := data[key]; !ok {
		data[key] = value
	}
}

func supportedCountry(code string) bool {
	for _, supported := range SupportedCountryCodes {
		if code == supported {
			return true
		}
	}
	return false
}

func cameraKey(dimension, country interface{}) string {
	return fmt.Sprintf("%s-%s", formatValue(dimension), strings.ToUpper(fmt.Sprint(country)))
}

func locationKey(lat, lon interface{}) string {
	return fmt.Sprintf("%s-%s", formatValue(lat), formatValue(lon))
}

// formatValue renders numbers the same way whether they came from YAML,
// JSON or Go code, so 52.1 and "52.1" produce the same key
func formatValue(v interface{}) string {
	if f, ok := config.ToFloat(v); ok {
		return formatFloat(f)
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
