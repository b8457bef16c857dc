// Package covruntime defines the runtime entry point injected coverage calls
// report to. The compile-time pass hardcodes this package's identity: the
// file name instrumentcode.go gates instrumentation, and the injected
// statements take the form
//
//	covruntime.Instance.InstrumentCode("<encodedParam>", <lineNumber>)
//
// The package only records which sites executed; decoding the terse params,
// and any transport of the collected data, happen out of band.
package covruntime

import "sync"

// Site is one executed instrumentation site, as observed at runtime.
type Site struct {
	Param string
	Line  int
}

// CodeReporter records execution of instrumented functions. Methods are safe
// for concurrent use by multiple goroutines.
type CodeReporter struct {
	mu       sync.Mutex
	executed map[Site]struct{}
}

// InstrumentCode records that the instrumentation site identified by the
// encoded param executed. It is called at the entry of every instrumented
// function, so it deliberately does nothing beyond a set insertion.
func (r *CodeReporter) InstrumentCode(param string, line int) {
	r.mu.Lock()
	if r.executed == nil {
		r.executed = make(map[Site]struct{})
	}
	r.executed[Site{Param: param, Line: line}] = struct{}{}
	r.mu.Unlock()
}

// Executed returns a snapshot of the distinct sites observed so far.
func (r *CodeReporter) Executed() []Site {
	r.mu.Lock()
	defer r.mu.Unlock()
	sites := make([]Site, 0, len(r.executed))
	for site := range r.executed {
		sites = append(sites, site)
	}
	return sites
}

// Instance is the reporter instance instrumented code references.
var Instance = &CodeReporter{}
