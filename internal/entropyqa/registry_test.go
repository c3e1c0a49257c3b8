package entropyqa

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterDeregister(t *testing.T) {
	reg := NewMonitorRegistry()
	m, err := NewHealthMonitor("a", true, reg)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	reg.Deregister(m)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryIdsInsertionOrder(t *testing.T) {
	reg := NewMonitorRegistry()
	ids := []string{"first", "second", "third"}
	for _, id := range ids {
		_, err := NewHealthMonitor(id, true, reg)
		require.NoError(t, err)
	}

	raw, err := reg.Ids()
	require.NoError(t, err)

	var decoded []string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ids, decoded)
}

func TestRegistryStatsFilter(t *testing.T) {
	reg := NewMonitorRegistry()
	m1, err := NewHealthMonitor("one", true, reg)
	require.NoError(t, err)
	_, err = NewHealthMonitor("two", true, reg)
	require.NoError(t, err)

	m1.Check(pseudoRandomBlock(5))

	raw, err := reg.Stats("one")
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Len(t, decoded, 1)
	assert.Contains(t, decoded, "one")
}

func TestRegistryStatsEmptyFilterSelectsAll(t *testing.T) {
	reg := NewMonitorRegistry()
	_, err := NewHealthMonitor("one", true, reg)
	require.NoError(t, err)
	_, err = NewHealthMonitor("two", true, reg)
	require.NoError(t, err)

	raw, err := reg.Stats("")
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Len(t, decoded, 2)
}

func TestRegistryClosedRejectsRegister(t *testing.T) {
	reg := NewMonitorRegistry()
	reg.Close()

	_, err := NewHealthMonitor("late", true, reg)
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistryConcurrentRegistrationAndStats(t *testing.T) {
	reg := NewMonitorRegistry()

	var wg sync.WaitGroup
	monitors := make([]*HealthMonitor, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := NewHealthMonitor(fmt.Sprintf("mon-%d", i), true, reg)
			require.NoError(t, err)
			monitors[i] = m
		}(i)
	}
	wg.Wait()

	var statsWG sync.WaitGroup
	for i := 0; i < 1000; i++ {
		statsWG.Add(1)
		go func() {
			defer statsWG.Done()
			raw, err := reg.Stats("")
			require.NoError(t, err)
			var decoded map[string]json.RawMessage
			assert.NoError(t, json.Unmarshal(raw, &decoded))
		}()
	}
	statsWG.Wait()

	assert.Equal(t, 64, reg.Len())

	raw, err := reg.Ids()
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal(raw, &ids))
	assert.Len(t, ids, 64)
}
