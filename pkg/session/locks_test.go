package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLocks_NoLeak(t *testing.T) {
	locks := newSessionLocks()

	for i := 0; i < 10000; i++ {
		locks.with(fmt.Sprintf("session-%d", i), func() {})
	}
	assert.Zero(t, locks.size())
}

func TestSessionLocks_Serializes(t *testing.T) {
	locks := newSessionLocks()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.with("ch-1", func() { counter++ })
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Zero(t, locks.size())
}
