// Package prometheus exposes gateway metrics as a Prometheus collector.
//
// [NewCollector] reads an engine snapshot on every scrape; it never keeps
// its own counters, so registering it twice against different registries
// reports the same values. Counter names are gogate_*_total and the only
// histogram is gogate_authorize_latency_seconds.
//
// Nothing here touches the global Prometheus registry; callers register the
// collector themselves or mount [Handler].
package prometheus
