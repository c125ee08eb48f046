package block

import "sort"

// Extent is an (offset, size) run of free bytes in one table's file
// (spec.md §3). The free-space allocator below keeps extents in two
// skip-lists, one keyed by offset (for coalescing) and one keyed by size
// (for best-fit allocation), per spec.md §4.2.
type Extent struct {
	Offset uint64
	Size   uint64
}

// extentBucket groups every free extent of one size, sorted by offset, so
// the by-size skip list can break same-size ties by lowest offset as
// spec.md §4.2 requires without needing a composite skip-list key.
type extentBucket struct {
	size    uint64
	offsets []uint64 // kept sorted ascending
}

func (b *extentBucket) insert(offset uint64) {
	i := sort.Search(len(b.offsets), func(i int) bool { return b.offsets[i] >= offset })
	b.offsets = append(b.offsets, 0)
	copy(b.offsets[i+1:], b.offsets[i:])
	b.offsets[i] = offset
}

func (b *extentBucket) remove(offset uint64) {
	i := sort.Search(len(b.offsets), func(i int) bool { return b.offsets[i] >= offset })
	if i < len(b.offsets) && b.offsets[i] == offset {
		b.offsets = append(b.offsets[:i], b.offsets[i+1:]...)
	}
}

// ExtentList is the free-space allocator for one table file: a by-offset
// index (for coalescing adjacent runs) and a by-size index (for best-fit
// allocation), kept in sync on every alloc/free.
type ExtentList struct {
	byOffset *skipList
	bySize   *skipList
}

// NewExtentList returns an empty extent list.
func NewExtentList() *ExtentList {
	return &ExtentList{byOffset: newSkipList(), bySize: newSkipList()}
}

// Seed inserts a free extent as is, without coalescing it with its
// neighbors. Only tests call it.
func (l *ExtentList) Seed(offset, size uint64) {
	l.insertExtent(offset, size)
}

func (l *ExtentList) insertExtent(offset, size uint64) {
	l.byOffset.insert(offset, &Extent{Offset: offset, Size: size})

	v, ok := l.bySize.get(size)
	var bucket *extentBucket
	if ok {
		bucket = v.(*extentBucket)
	} else {
		bucket = &extentBucket{size: size}
		l.bySize.insert(size, bucket)
	}
	bucket.insert(offset)
}

func (l *ExtentList) removeExtent(offset, size uint64) {
	l.byOffset.remove(offset)

	if v, ok := l.bySize.get(size); ok {
		bucket := v.(*extentBucket)
		bucket.remove(offset)
		if len(bucket.offsets) == 0 {
			l.bySize.remove(size)
		}
	}
}

// Alloc finds the smallest extent E with E.Size >= requested via the
// by-size index, carving the lower `requested` bytes off (spec.md §4.2).
// Ties in size are broken by lowest offset. Returns ok=false if no extent
// large enough exists.
func (l *ExtentList) Alloc(requested uint64) (offset uint64, ok bool) {
	node := l.bySize.ceiling(requested)
	if node == nil {
		return 0, false
	}
	bucket := node.value.(*extentBucket)
	offset = bucket.offsets[0]
	size := bucket.size

	l.removeExtent(offset, size)
	if size > requested {
		l.insertExtent(offset+requested, size-requested)
	}
	return offset, true
}

// Free inserts (offset, size) back into both indices, coalescing with
// left and right neighbors on offset so adjacent free runs merge into one
// extent (spec.md §8's "freed extents coalesce" law).
func (l *ExtentList) Free(offset, size uint64) {
	// Coalesce with the left neighbor: the largest offset strictly less
	// than ours whose extent ends exactly at our start.
	if left := l.floor(offset); left != nil && left.Offset+left.Size == offset {
		l.removeExtent(left.Offset, left.Size)
		offset = left.Offset
		size += left.Size
	}

	// Coalesce with the right neighbor: the extent starting exactly where
	// ours ends.
	if node := l.byOffset.ceiling(offset + size); node != nil {
		if right, ok := node.value.(*Extent); ok && right.Offset == offset+size {
			l.removeExtent(right.Offset, right.Size)
			size += right.Size
		}
	}

	l.insertExtent(offset, size)
}

// floor returns the extent with the largest offset <= target, or nil.
func (l *ExtentList) floor(target uint64) *Extent {
	var best *Extent
	l.byOffset.forEach(func(v any) {
		e := v.(*Extent)
		if e.Offset <= target {
			if best == nil || e.Offset > best.Offset {
				best = e
			}
		}
	})
	return best
}

// FirstAvailable reports whether any free extent of size >= requested
// exists, used by compaction's compact_skip check (spec.md §4.2).
func (l *ExtentList) FirstAvailable(requested uint64) bool {
	return l.bySize.ceiling(requested) != nil
}

// Extents returns every free extent in ascending offset order. The list
// is not serialized to disk; only tests call it.
func (l *ExtentList) Extents() []Extent {
	out := make([]Extent, 0)
	l.byOffset.forEach(func(v any) {
		out = append(out, *v.(*Extent))
	})
	return out
}
