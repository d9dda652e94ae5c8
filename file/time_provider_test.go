package file

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTimeProvider(t *testing.T) {
	tp := getTimeProvider(nil)
	assert.IsType(t, DefaultTimeProvider{}, tp)

	start := tp.Now()
	assert.GreaterOrEqual(t, tp.Since(start), time.Duration(0))

	fired := make(chan struct{})
	tp.AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	stopped := tp.AfterFunc(time.Hour, func() { t.Error("stopped timer fired") })
	assert.True(t, stopped.Stop())
}

func TestGetTimeProviderKeepsCustom(t *testing.T) {
	mock := newMockTimeProvider()
	assert.Same(t, mock, getTimeProvider(mock))
}
