package covruntime

import (
	"sync"
	"testing"
)

func TestInstrumentCode(t *testing.T) {
	r := &CodeReporter{}
	r.InstrumentCode("C", 3)
	r.InstrumentCode("E", 7)
	r.InstrumentCode("C", 3) // repeat executions collapse into one site

	sites := r.Executed()
	if len(sites) != 2 {
		t.Errorf("Executed() returned %d sites, want 2", len(sites))
	}
}

func TestConcurrentReporting(t *testing.T) {
	r := &CodeReporter{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.InstrumentCode("C", 3)
			}
		}()
	}
	wg.Wait()

	if got := len(r.Executed()); got != 1 {
		t.Errorf("Executed() returned %d sites, want 1", got)
	}
}
