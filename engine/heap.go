package engine

import (
	"runtime/metrics"
)

const (
	metricHeapObjects = "/memory/classes/heap/objects:bytes"
	metricTotal       = "/memory/classes/total:bytes"
)

// HeapStats is a sample of the process heap. Engine realms share the Go heap,
// so per-isolate numbers are approximations built on this sample.
type HeapStats struct {
	InUse uint64 // bytes occupied by live and not yet swept objects
	Total uint64 // bytes mapped by the Go runtime
}

// SampleHeap reads the current heap usage via runtime/metrics.
func SampleHeap() HeapStats {
	samples := []metrics.Sample{
		{Name: metricHeapObjects},
		{Name: metricTotal},
	}
	metrics.Read(samples)

	var s HeapStats
	if samples[0].Value.Kind() == metrics.KindUint64 {
		s.InUse = samples[0].Value.Uint64()
	}
	if samples[1].Value.Kind() == metrics.KindUint64 {
		s.Total = samples[1].Value.Uint64()
	}
	return s
}

// HeapInUse returns the bytes currently occupied by heap objects.
func HeapInUse() uint64 {
	return SampleHeap().InUse
}
