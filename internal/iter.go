// Package internal holds helpers shared by the x86rs packages.
package internal

import (
	"iter"
)

// IterSeq2Concat yields every pair of each sequence in turn. Define
// tables are merged this way, so a later key does not replace an earlier
// one; the consumer sees both.
func IterSeq2Concat[K any, V any](seqs ...iter.Seq2[K, V]) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, seq := range seqs {
			for key, value := range seq {
				if !yield(key, value) {
					return
				}
			}
		}
	}
}
