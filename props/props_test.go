package props

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory(nil)

	assert.Equal(t, "", m.Get("ro.crypto.state"), "unset keys read as empty")

	require.NoError(t, m.Set("ro.crypto.state", "encrypted"))
	assert.Equal(t, "encrypted", m.Get("ro.crypto.state"))

	require.NoError(t, m.Set("ro.crypto.state", ""))
	assert.Equal(t, "", m.Get("ro.crypto.state"))
}

func TestMemoryWaitForImmediate(t *testing.T) {
	m := NewMemory(nil)
	require.NoError(t, m.Set("vold.post_fs_data_done", "1"))

	assert.NoError(t, m.WaitFor("vold.post_fs_data_done", "1", time.Second))
}

// TestMemoryWaitForEventual lets a concurrent writer flip the flag while the
// poll loop is running
func TestMemoryWaitForEventual(t *testing.T) {
	m := NewMemory(nil)

	go func() {
		time.Sleep(3 * PollInterval)
		m.Set("vold.post_fs_data_done", "1")
	}()

	assert.NoError(t, m.WaitFor("vold.post_fs_data_done", "1", 5*time.Second))
}

func TestMemoryWaitForTimeout(t *testing.T) {
	m := NewMemory(nil)

	err := m.WaitFor("vold.post_fs_data_done", "1", 4*PollInterval)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vold.post_fs_data_done")
}
