// Package batch assigns scanned items to a fixed number of workers using
// the longest-processing-time-first heuristic, minimizing the byte load of
// the most loaded worker.
package batch

import (
	"errors"
	"sort"

	"github.com/jmhart/fansync/internal/scan"
)

// ErrInvalidParallelism indicates a worker count of zero or less.
var ErrInvalidParallelism = errors.New("worker count must be at least 1")

// Assignment is the ordered item queue for one worker. LoadBytes always
// equals the sum of the assigned items' sizes.
type Assignment struct {
	Worker    int         `json:"worker"`
	Items     []scan.Item `json:"items"`
	LoadBytes uint64      `json:"load_bytes"`
	LoadFiles uint64      `json:"load_files"`
}

// Assign distributes items across workerCount workers: items are taken in
// descending size order (ties kept in scan order) and each goes to the
// currently least loaded worker, lowest index winning ties. The result
// always has exactly workerCount entries; trailing workers may be empty.
//
// LPT keeps the makespan within 4/3 of optimal. A single item larger than
// everything else combined is still an unavoidable bottleneck; operators
// should pre-split oversized top-level directories.
func Assign(items []scan.Item, workerCount int) ([]Assignment, error) {
	if workerCount <= 0 {
		return nil, ErrInvalidParallelism
	}

	assignments := make([]Assignment, workerCount)
	for i := range assignments {
		assignments[i].Worker = i
	}

	// Sort a copy by size descending; stable sort preserves scan order for
	// equal sizes so assignment is deterministic.
	sorted := make([]scan.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SizeBytes > sorted[j].SizeBytes
	})

	for _, item := range sorted {
		least := 0
		for w := 1; w < workerCount; w++ {
			if assignments[w].LoadBytes < assignments[least].LoadBytes {
				least = w
			}
		}
		assignments[least].Items = append(assignments[least].Items, item)
		assignments[least].LoadBytes += item.SizeBytes
		assignments[least].LoadFiles += item.FileCount
	}

	return assignments, nil
}
