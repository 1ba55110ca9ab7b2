package process

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputLogAppendAndSince(t *testing.T) {
	log := NewOutputLog()

	log.Append("srv", "hello ")
	log.Append("srv", "world")

	assert.Equal(t, "hello world", log.Snapshot("srv"))
	assert.Equal(t, 11, log.Len("srv"))
	assert.Equal(t, "world", log.Since("srv", 6))
	assert.Equal(t, "", log.Since("srv", 11))
	assert.Equal(t, "", log.Since("srv", 100))
}

func TestOutputLogSessionsAreIndependent(t *testing.T) {
	log := NewOutputLog()

	log.Append("a", "from a")
	log.Append("b", "from b")

	assert.Equal(t, "from a", log.Snapshot("a"))
	assert.Equal(t, "from b", log.Snapshot("b"))
	assert.Equal(t, "", log.Snapshot("missing"))
	assert.Equal(t, 0, log.Len("missing"))
}

func TestOutputLogConcurrentAppend(t *testing.T) {
	log := NewOutputLog()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				log.Append(fmt.Sprintf("session-%d", n), "x")
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		assert.Equal(t, 100, log.Len(fmt.Sprintf("session-%d", i)))
	}
}
