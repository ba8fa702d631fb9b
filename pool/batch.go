// File: pool/batch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

// FreeBulk releases pkts, grouping consecutive buffers of the same pool into
// one PutBulk call. Nil entries and buffers without a pool are skipped.
func FreeBulk(pkts []*Mbuf) {
	start := 0
	for start < len(pkts) {
		if pkts[start] == nil {
			start++
			continue
		}
		mp := pkts[start].pool
		end := start + 1
		for end < len(pkts) && pkts[end] != nil && pkts[end].pool == mp {
			end++
		}
		if mp != nil {
			_ = mp.PutBulk(pkts[start:end])
		}
		start = end
	}
}
