// Package metric keeps rolling histories of expvar counters for the monitor.
package metric

import (
	"container/list"
	"expvar"
	"strings"
	"sync"
	"time"
)

// TickerFunc is the function signature accepted by AddTickerFunc, will be called once per minute.
type TickerFunc func()

var tickerFuncChan = make(chan TickerFunc)

func init() {
	go metricsTicker()
}

// AddTickerFunc adds a new function callback to the list of metrics TickerFuncs that get
// called each minute.
func AddTickerFunc(f TickerFunc) {
	tickerFuncChan <- f
}

// History samples a counter and publishes the last samples as a comma separated expvar.String.
// It holds one more sample than its window so the first delta can be charted.
type History struct {
	mu      sync.Mutex
	source  expvar.Var
	samples *list.List
	window  int
	Value   *expvar.String
}

// NewHistory returns a History of source covering window samples.
func NewHistory(source expvar.Var, window int) *History {
	return &History{
		source:  source,
		samples: list.New(),
		window:  window,
		Value:   new(expvar.String),
	}
}

// Sample records the current value of the source and republishes the history.
func (h *History) Sample() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples.PushBack(h.source.String())
	for h.samples.Len() > h.window+1 {
		h.samples.Remove(h.samples.Front())
	}
	h.Value.Set(joinStringList(h.samples))
}

// metricsTicker calls the current list of TickerFuncs once per minute.
func metricsTicker() {
	funcs := make([]TickerFunc, 0)
	ticker := time.NewTicker(time.Minute)

	for {
		select {
		case <-ticker.C:
			for _, f := range funcs {
				f()
			}
		case f := <-tickerFuncChan:
			funcs = append(funcs, f)
		}
	}
}

// joinStringList joins a List containing strings by commas.
func joinStringList(listOfStrings *list.List) string {
	if listOfStrings.Len() == 0 {
		return ""
	}
	s := make([]string, 0, listOfStrings.Len())
	for e := listOfStrings.Front(); e != nil; e = e.Next() {
		s = append(s, e.Value.(string))
	}
	return strings.Join(s, ",")
}
