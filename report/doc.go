// Package report defines the per-tick record the controller produces.
//
// A [Report] lists what one controller tick observed and did: the target
// snapshot, the recommended mode, the timing plan, and for every node the
// capacity reading, the planned threads, and the cancels, launches and
// rejections issued. Extensions, the telemetry aggregator, the stream
// broker and the HTTP API all read reports; none of them write back.
package report
