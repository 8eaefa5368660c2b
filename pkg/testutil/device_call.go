package testutil

import "time"

// DeviceCall records a request received by one of the mock devices
type DeviceCall struct {
	Timestamp   time.Time
	Method      string
	Path        string
	Token       string
	ContentType string
	Body        []byte
}

// FilterDeviceCalls returns the calls matching method and path.
// An empty method matches any method.
func FilterDeviceCalls(calls []DeviceCall, method, path string) []DeviceCall {
	var filtered []DeviceCall
	for _, call := range calls {
		if call.Path == path && (method == "" || call.Method == method) {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// LastDeviceCall returns the most recent call to path, or nil
func LastDeviceCall(calls []DeviceCall, path string) *DeviceCall {
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Path == path {
			call := calls[i]
			return &call
		}
	}
	return nil
}

// Paths returns the request paths in the order they were received
func Paths(calls []DeviceCall) []string {
	paths := make([]string, 0, len(calls))
	for _, call := range calls {
		paths = append(paths, call.Path)
	}
	return paths
}
