//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.
package intset

// SnapshotSum returns the sum of all values.
//
// Each bucket is read as a sequence of regions of at most the segment length.
// A region's partial sum is folded into the total only once the region has
// committed, and the next region resumes after the last node read, which
// stays pinned in between. Every segment is therefore a consistent view of
// its part of a chain, but the sum is not one atomic view of the whole set:
// an update behind the scan position of a segment may or may not be
// reflected. On a quiescent set the result is exact. The segment length is
// halved, down to one, whenever entering a region needed capacity aborts.
func (s *Set) SnapshotSum() int64 {
	var total int64
	budget := s.segment
	for i := range s.buckets {
		b := &s.buckets[i]
		var cursor *node
		for {
			e := b.lock.Enter()
			start := &b.head
			if cursor != nil {
				cursor.pins--
				start = cursor
			}
			var sum int64
			var last *node
			read := 0
			for n := start.next; n != nil && read < budget; n = n.next {
				sum += n.value
				last = n
				read++
			}
			more := read == budget && last.next != nil
			if more {
				last.pins++
			}
			b.lock.Unlock()

			// an aborted attempt restarts inside Enter, so sum only ever
			// holds the reads of the committed region
			total += sum
			if e.CapacityAborts > 0 && budget > 1 {
				budget /= 2
			}
			if !more {
				break
			}
			cursor = last
		}
	}
	return total
}
