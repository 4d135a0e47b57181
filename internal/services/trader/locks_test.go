package trader

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccountLocks(t *testing.T) {
	l := newAccountLocks()

	unlock := l.Lock("alice")
	acquired := make(chan struct{})
	go func() {
		release := l.Lock("alice")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(20 * time.Millisecond):
	}

	// other accounts are not blocked
	other := l.Lock("bob")
	other()

	unlock()
	<-acquired

	assert.Eventually(t, func() bool { return l.size() == 0 }, time.Second, time.Millisecond)
}

func TestAccountLocks_Counter(t *testing.T) {
	l := newAccountLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("alice")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, l.size())
}
