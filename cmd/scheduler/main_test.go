package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitBounded_ReturnsWorkError(t *testing.T) {
	done := make(chan error, 1)
	done <- errors.New("boom")

	err, abandoned := waitBounded(context.Background(), done, time.Second)
	assert.False(t, abandoned)
	assert.EqualError(t, err, "boom")
}

func TestWaitBounded_WaitsOutGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		done <- nil
	}()

	err, abandoned := waitBounded(ctx, done, time.Second)
	assert.False(t, abandoned)
	assert.NoError(t, err)
}

func TestWaitBounded_AbandonsAfterTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Nothing ever writes to done: the work is stuck.
	done := make(chan error, 1)

	start := time.Now()
	_, abandoned := waitBounded(ctx, done, 20*time.Millisecond)
	assert.True(t, abandoned)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
