package metrics

import (
	"testing"
	"time"
)

func TestRecordInference(t *testing.T) {
	before := TotalTokens()
	RecordInference(3, 5*time.Millisecond)
	if got := TotalTokens() - before; got != 3 {
		t.Errorf("expected token count to advance by 3, got %d", got)
	}
}

func TestRecordHelpersDoNotPanic(t *testing.T) {
	RecordKernelDuration("matvec", time.Microsecond)
	RecordContextLength(128)
	RecordKVCacheStats(1<<20, 4096)
	RecordSampling(0.8, 0.95)
	RecordQuantError(0.004)
	RecordTokenizerEncode(17)
	KVCacheOverwrites.Inc()
	KVCacheOutOfBounds.Inc()
	NucleusSize.Observe(3)
	FlightPublishTotal.Inc()
	FlightPublishErrors.Inc()
}
