package integration

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"homeintegrations/internal/clock"
	"homeintegrations/internal/config"
	"homeintegrations/internal/twinkly"
	"homeintegrations/pkg/entity"
	"homeintegrations/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticEntries []config.Entry

func (s staticEntries) AllEntries() []config.Entry {
	return s
}

type fakeEntity struct {
	id      string
	updates int
	state   string
}

func (f *fakeEntity) UniqueID() string { return f.id }
func (f *fakeEntity) Name() string { return f.id }
func (f *fakeEntity) Available() bool { return true }

func (f *fakeEntity) Update(context.Context) error {
	f.updates++
	return nil
}

func (f *fakeEntity) Snapshot() entity.Snapshot {
	return entity.Snapshot{EntityID: f.id, Domain: "fake", State: f.state}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(nil)

	assert.Error(t, registry.Register(Info{Domain: "", Setup: SetupTwinkly}))
	assert.Error(t, registry.Register(Info{Domain: "x"}))

	require.NoError(t, registry.Register(Info{Domain: "a", Description: "first", Setup: SetupTwinkly}))
	require.NoError(t, registry.Register(Info{Domain: "b", Setup: SetupNefit}))
	require.NoError(t, registry.Register(Info{Domain: "a", Description: "second", Setup: SetupTwinkly}))

	assert.Equal(t, []string{"a", "b"}, registry.Domains())
	assert.Equal(t, "second", registry.Get("a").Description)
	assert.Nil(t, registry.Get("missing"))
}

func TestContext_HTTPClient(t *testing.T) {
	ic := NewContext(nil, nil, 2*time.Second)

	first := ic.HTTPClient()
	second := ic.HTTPClient()
	assert.Equal(t, 2*time.Second, first.Timeout)
	require.NotNil(t, first.Transport)
	require.NotNil(t, second.Transport)
	assert.NotSame(t, first.Transport, second.Transport)
	assert.NotSame(t, http.DefaultTransport, first.Transport)
}

func TestBuiltinRegistry(t *testing.T) {
	registry, err := NewBuiltinRegistry(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{DomainTwinkly, DomainNefit}, registry.Domains())
}

func TestManager_StartAndPoll(t *testing.T) {
	twinklyServer := testutil.NewMockTwinklyServer(10)
	defer twinklyServer.Close()
	gateway := testutil.NewMockGatewayServer()
	defer gateway.Close()

	logger, _ := zap.NewDevelopment()
	loader := config.NewLoader(filepath.Join(t.TempDir(), "integrations.yaml"), logger)
	require.NoError(t, loader.Load())

	_, err := loader.AddEntry(config.Entry{
		EntryID: "tree",
		Domain:  DomainTwinkly,
		Data:    map[string]interface{}{"host": twinklyServer.URL(), "id": "tree-light", "name": "Twinkly_Test", "model": "TWS250STP"},
	})
	require.NoError(t, err)
	_, err = loader.AddEntry(config.Entry{
		EntryID: "boiler",
		Domain:  DomainNefit,
		Data:    map[string]interface{}{"url": gateway.URL(), "switches": []interface{}{"lockui"}},
	})
	require.NoError(t, err)
	_, err = loader.AddEntry(config.Entry{EntryID: "radar", Domain: "buienradar"})
	require.NoError(t, err)
	_, err = loader.AddEntry(config.Entry{EntryID: "broken", Domain: DomainTwinkly})
	require.NoError(t, err)

	registry, err := NewBuiltinRegistry(logger)
	require.NoError(t, err)

	clk := clock.NewMockClock(time.Now())
	ic := NewContext(logger, loader, twinkly.DefaultTimeout)
	manager := NewManager(registry, ic, loader, clk, time.Minute, logger)

	updates, unsubscribe := manager.Subscribe()
	defer unsubscribe()

	require.NoError(t, manager.Start(context.Background()))
	defer func() { assert.NoError(t, manager.Stop()) }()

	entities := manager.Entities()
	require.Len(t, entities, 2)
	assert.Equal(t, "boiler_lockui", entities[0].UniqueID())
	assert.Equal(t, "tree-light", entities[1].UniqueID())

	light, ok := manager.Entity("tree-light")
	require.True(t, ok)
	assert.True(t, light.Available())

	failed := manager.FailedEntries()
	assert.Contains(t, failed, "broken")
	assert.NotContains(t, failed, "radar")

	// initial poll publishes both entities
	received := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case snapshot := <-updates:
			received[snapshot.EntityID] = snapshot.State
		case <-time.After(time.Second):
			t.Fatal("expected initial snapshots")
		}
	}
	assert.Equal(t, entity.StateOn, received["tree-light"])
	assert.Equal(t, entity.StateOff, received["boiler_lockui"])

	// the next tick picks up a change made on the device
	twinklyServer.SetMode(twinkly.ModeOff)
	require.Eventually(t, func() bool { return clk.PendingTimers() > 0 }, time.Second, 5*time.Millisecond)
	clk.Advance(time.Minute)

	select {
	case snapshot := <-updates:
		assert.Equal(t, "tree-light", snapshot.EntityID)
		assert.Equal(t, entity.StateOff, snapshot.State)
	case <-time.After(2 * time.Second):
		t.Fatal("expected change after poll")
	}
}

func TestManager_Refresh(t *testing.T) {
	fake := &fakeEntity{id: "fake", state: entity.StateOff}
	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(Info{
		Domain: "fake",
		Setup: func(context.Context, *Context, config.Entry) (Handle, error) {
			return &entityHandle{entities: []entity.Entity{fake}}, nil
		},
	}))

	manager := NewManager(registry, NewContext(nil, nil, time.Second),
		staticEntries{{EntryID: "e1", Domain: "fake"}}, clock.NewMockClock(time.Now()), time.Minute, nil)
	require.NoError(t, manager.Start(context.Background()))
	defer manager.Stop()
	assert.Equal(t, 1, fake.updates)

	snapshot, err := manager.Refresh(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, entity.StateOff, snapshot.State)
	assert.Equal(t, 2, fake.updates)

	_, err = manager.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestManager_StopJoinsErrors(t *testing.T) {
	registry := NewRegistry(nil)
	require.NoError(t, registry.Register(Info{
		Domain: "fake",
		Setup: func(_ context.Context, _ *Context, entry config.Entry) (Handle, error) {
			return &entityHandle{stop: func() error { return errors.New(entry.EntryID + " stuck") }}, nil
		},
	}))

	manager := NewManager(registry, NewContext(nil, nil, time.Second),
		staticEntries{{EntryID: "a", Domain: "fake"}, {EntryID: "b", Domain: "fake"}},
		clock.NewMockClock(time.Now()), time.Minute, nil)
	require.NoError(t, manager.Start(context.Background()))
	assert.Error(t, manager.Start(context.Background()))

	err := manager.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a stuck")
	assert.Contains(t, err.Error(), "b stuck")
	assert.Empty(t, manager.Entities())
}

func TestManager_Unsubscribe(t *testing.T) {
	manager := NewManager(NewRegistry(nil), NewContext(nil, nil, time.Second), staticEntries{}, nil, 0, nil)

	updates, unsubscribe := manager.Subscribe()
	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
	unsubscribe()
}
