package controllers

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBufferIsSafeForConcurrentUse(t *testing.T) {
	var buf ErrorBuffer
	cause := errors.New("timeout")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.Add("trakt", "collect", cause)
		}()
	}
	wg.Wait()

	require.Equal(t, 20, buf.Len())
	errs := buf.Errors()
	assert.ErrorIs(t, errs[0], cause)
	assert.Equal(t, "trakt collect: timeout", errs[0].Error())
}
