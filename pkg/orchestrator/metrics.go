package orchestrator

import (
	"expvar"

	"github.com/inbucket/mailvault/pkg/metric"
)

var (
	// Counters
	expCyclesTotal     = new(expvar.Int)
	expCycleErrors     = new(expvar.Int)
	expMessagesFetched = new(expvar.Int)
	expMessagesStored  = new(expvar.Int)
	expDuplicates      = new(expvar.Int)
	expSkipped         = new(expvar.Int)
	expFailed          = new(expvar.Int)

	// An hour of per-minute history
	storedHist = metric.NewHistory(expMessagesStored, 60)
	errorsHist = metric.NewHistory(expCycleErrors, 60)
)

func init() {
	m := expvar.NewMap("fetch")
	m.Set("CyclesTotal", expCyclesTotal)
	m.Set("CycleErrors", expCycleErrors)
	m.Set("MessagesFetched", expMessagesFetched)
	m.Set("MessagesStored", expMessagesStored)
	m.Set("Duplicates", expDuplicates)
	m.Set("Skipped", expSkipped)
	m.Set("Failed", expFailed)
	m.Set("StoredHist", storedHist.Value)
	m.Set("ErrorsHist", errorsHist.Value)

	metric.AddTickerFunc(storedHist.Sample)
	metric.AddTickerFunc(errorsHist.Sample)
}

// record adds the outcome of a cycle to the counters.
func record(res *CycleResult, err error) {
	expCyclesTotal.Add(1)
	if err != nil {
		expCycleErrors.Add(1)
	}
	expMessagesFetched.Add(int64(res.Fetched))
	expMessagesStored.Add(int64(res.Stored))
	expDuplicates.Add(int64(res.Duplicates))
	expSkipped.Add(int64(res.Skipped))
	expFailed.Add(int64(res.Failed))
}
