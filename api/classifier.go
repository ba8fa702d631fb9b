// File: api/classifier.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Classifier maps a received packet to a flow id. The data plane calls it once
// per received packet and keeps no classification state of its own.
type Classifier interface {
	Classify(pkt []byte) int32
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(pkt []byte) int32

// Classify calls f(pkt).
func (f ClassifierFunc) Classify(pkt []byte) int32 { return f(pkt) }

// NopClassifier assigns flow id 0 to every packet.
var NopClassifier = ClassifierFunc(func([]byte) int32 { return 0 })
