package consumer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConsumer_DefaultsWhenUnset(t *testing.T) {
	c := New(nil, nil, Config{}, nil)

	assert.EqualValues(t, 10, c.readCount())
	assert.Equal(t, 60*time.Second, c.claimIdle())
	assert.EqualValues(t, 100, c.claimCount())
	assert.Equal(t, 3, c.maxRetries())
	assert.Equal(t, 60*time.Second, c.statsInterval())
}

func TestConsumer_ConfiguredValuesOverrideDefaults(t *testing.T) {
	c := New(nil, nil, Config{
		ReadCount:  25,
		ClaimIdle:  90 * time.Second,
		ClaimCount: 200,
		MaxRetries: 5,
		StatsEvery: 30 * time.Second,
	}, nil)

	assert.EqualValues(t, 25, c.readCount())
	assert.Equal(t, 90*time.Second, c.claimIdle())
	assert.EqualValues(t, 200, c.claimCount())
	assert.Equal(t, 5, c.maxRetries())
	assert.Equal(t, 30*time.Second, c.statsInterval())
}

func TestConsumer_NilDeadLettererDefaultsToLogging(t *testing.T) {
	c := New(nil, nil, Config{}, nil)
	assert.NotPanics(t, func() {
		c.deadLtr.DeadLetter("entry-1", []byte(`{}`), errors.New("boom"))
	})
}

func TestConsumer_FailureBookkeeping(t *testing.T) {
	c := New(nil, nil, Config{}, nil)

	c.mu.Lock()
	c.failures["entry-1"]++
	attempts := c.failures["entry-1"]
	c.mu.Unlock()
	assert.Equal(t, 1, attempts)

	c.clearFailures("entry-1")
	c.mu.Lock()
	_, ok := c.failures["entry-1"]
	c.mu.Unlock()
	assert.False(t, ok)
}

func TestConsumer_StatsSnapshot(t *testing.T) {
	c := New(nil, nil, Config{}, nil)
	c.bumpDeadLettered()
	c.bumpDeadLettered()

	s := c.Stats()
	assert.EqualValues(t, 2, s.DeadLettred)
}

func TestConsumer_StopIsIdempotent(t *testing.T) {
	c := New(nil, nil, Config{}, nil)
	assert.NotPanics(t, func() {
		c.Stop()
		c.Stop()
	})
}
