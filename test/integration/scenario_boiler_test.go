package integration

import (
	"net/http"
	"testing"

	"homeintegrations/pkg/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	holidayEndpoint = "/heatingCircuits/hc1/holidayMode/status"
	lockUIEndpoint  = "/ecus/rrc/lockuserinterface"
)

// TestScenario_HolidayMode switches boiler settings through the API
func TestScenario_HolidayMode(t *testing.T) {
	env, cleanup := setupTest(t)
	defer cleanup()

	t.Log("WHEN: holiday mode is switched on")
	resp, body := env.post(t, "/api/entities/boiler_holiday_mode/turn_on", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	t.Log("THEN: the gateway stores on and the switch reports on")
	assert.Equal(t, "on", env.Gateway.Value(holidayEndpoint))
	assert.Equal(t, entity.StateOn, decodeSnapshot(t, body).State)

	t.Log("WHEN: the user interface lock is switched on")
	resp, body = env.post(t, "/api/entities/boiler_lockui/turn_on", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "true", env.Gateway.Value(lockUIEndpoint))

	resp, _ = env.post(t, "/api/entities/boiler_lockui/turn_off", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "false", env.Gateway.Value(lockUIEndpoint))
}

// TestScenario_BoilerChangedElsewhere checks a change made on the thermostat
// is picked up by the next poll
func TestScenario_BoilerChangedElsewhere(t *testing.T) {
	env, cleanup := setupTest(t)
	defer cleanup()

	env.Gateway.SetValue(holidayEndpoint, "on")
	assert.Equal(t, entity.StateOff, env.getEntity(t, "boiler_holiday_mode").State)

	env.tick(t)
	assert.Equal(t, entity.StateOn, env.getEntity(t, "boiler_holiday_mode").State)
}

// TestScenario_GatewayRejectsWrite maps a failed write to a bad gateway and
// marks the switch unavailable until the next good poll
func TestScenario_GatewayRejectsWrite(t *testing.T) {
	env, cleanup := setupTest(t)
	defer cleanup()

	env.Gateway.FailWith(lockUIEndpoint, http.StatusInternalServerError)
	resp, _ := env.post(t, "/api/entities/boiler_lockui/turn_on", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, entity.StateUnavailable, env.getEntity(t, "boiler_lockui").State)

	resp, _ = env.post(t, "/api/entities/boiler_lockui/turn_on", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	env.Gateway.FailWith(lockUIEndpoint, 0)
	env.tick(t)
	assert.Equal(t, entity.StateOff, env.getEntity(t, "boiler_lockui").State)
}
