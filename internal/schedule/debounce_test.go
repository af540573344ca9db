package schedule

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_BurstRunsLastOnce(t *testing.T) {
	t.Parallel()
	d := NewDebouncer()

	var mu sync.Mutex
	var runs []int
	for i := 1; i <= 3; i++ {
		i := i
		d.Schedule("s1", 30*time.Millisecond, func() {
			mu.Lock()
			runs = append(runs, i)
			mu.Unlock()
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{3}, runs)
	assert.False(t, d.Pending("s1"))
}

func TestDebouncer_Len(t *testing.T) {
	d := NewDebouncer()
	d.Schedule("a", time.Hour, func() {})
	d.Schedule("a", time.Hour, func() {})
	d.Schedule("b", time.Hour, func() {})
	assert.Equal(t, 2, d.Len())

	d.Flush("a")
	assert.Equal(t, 1, d.Len())
	d.Cancel("b")
	assert.Equal(t, 0, d.Len())
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	d := NewDebouncer()

	var a, b atomic.Int32
	d.Schedule("a", 10*time.Millisecond, func() { a.Add(1) })
	d.Schedule("b", 10*time.Millisecond, func() { b.Add(1) })

	require.Eventually(t, func() bool { return a.Load() == 1 && b.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_FlushAndCancel(t *testing.T) {
	t.Parallel()
	d := NewDebouncer()

	var ran atomic.Int32
	d.Schedule("k", time.Hour, func() { ran.Add(1) })
	assert.True(t, d.Pending("k"))
	assert.True(t, d.Flush("k"))
	assert.False(t, d.Flush("k"))
	assert.Equal(t, int32(1), ran.Load())

	d.Schedule("k", time.Hour, func() { ran.Add(10) })
	assert.True(t, d.Cancel("k"))
	assert.False(t, d.Cancel("k"))
	assert.Equal(t, int32(1), ran.Load())
}

func TestDebouncer_CloseFlushesAndRunsLateTasks(t *testing.T) {
	t.Parallel()
	d := NewDebouncer()

	var order []string
	d.Schedule("b", time.Hour, func() { order = append(order, "b") })
	d.Schedule("a", time.Hour, func() { order = append(order, "a") })

	d.Close()
	assert.Equal(t, []string{"a", "b"}, order)

	d.Schedule("c", time.Hour, func() { order = append(order, "c") })
	assert.Equal(t, []string{"a", "b", "c"}, order)
}
