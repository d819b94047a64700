package shadow

import "github.com/sparcians/stf-tools/pkg/stf/record"

// PTEKey identifies one shadow entry: an address space plus the virtual
// page number (va with the page offset masked off).
type PTEKey struct {
	ASID  uint32
	VPage uint64
}

// PTEEntry is the shadow's value: the walk that resolved this page, plus
// the "used" flag the on-demand rewriter mode needs (§4.7).
type PTEEntry struct {
	Walk record.PageTableWalk
	Used bool
}

// PTETable is the PTE shadow, keyed by (asid, vpage) per §4.7.
type PTETable struct {
	entries map[PTEKey]*PTEEntry
}

// NewPTETable returns an empty PTE shadow.
func NewPTETable() *PTETable {
	return &PTETable{entries: make(map[PTEKey]*PTEEntry)}
}

func pageMask(pageSizeLog2 uint32) uint64 {
	return ^(uint64(1)<<pageSizeLog2 - 1)
}

func vpage(vaddr uint64, pageSizeLog2 uint32) uint64 {
	return vaddr & pageMask(pageSizeLog2)
}

// Update applies a PAGE_TABLE_WALK for the given ASID, implementing the
// §4.7 overwrite rule: an entry for an existing (asid, vpage) is replaced
// iff the ASID or walk content differs (clearing `used`); an overlapping
// virtual range at a different page size evicts every entry it covers.
func (t *PTETable) Update(asid uint32, walk record.PageTableWalk) {
	key := PTEKey{ASID: asid, VPage: vpage(walk.VAddr, walk.PageSizeLog2)}
	if existing, ok := t.entries[key]; ok && existing.Walk.PageSizeLog2 == walk.PageSizeLog2 {
		if !walkEqual(existing.Walk, walk) {
			t.entries[key] = &PTEEntry{Walk: walk}
		}
		return
	}
	t.evictOverlapping(key, walk.PageSizeLog2)
	t.entries[key] = &PTEEntry{Walk: walk}
}

func walkEqual(a, b record.PageTableWalk) bool {
	if a.VAddr != b.VAddr || a.PAddr != b.PAddr || a.PageSizeLog2 != b.PageSizeLog2 {
		return false
	}
	if len(a.Entries) != len(b.Entries) {
		return false
	}
	for i := range a.Entries {
		if a.Entries[i] != b.Entries[i] {
			return false
		}
	}
	return true
}

// evictOverlapping removes any existing entry whose page, at its own page
// size, overlaps newKey's page at newSizeLog2 (covers the case where a
// larger new page subsumes several smaller existing ones, or vice versa).
func (t *PTETable) evictOverlapping(newKey PTEKey, newSizeLog2 uint32) {
	newStart := newKey.VPage
	newEnd := newStart + 1<<newSizeLog2
	for key, entry := range t.entries {
		if key.ASID != newKey.ASID {
			continue
		}
		start := key.VPage
		end := start + 1<<entry.Walk.PageSizeLog2
		if start < newEnd && newStart < end {
			delete(t.entries, key)
		}
	}
}

// Lookup finds the entry translating vaddr for asid, if any, trying the
// configured pageSizeLog2 granularities in order (callers typically pass
// the set of page sizes seen so far).
func (t *PTETable) Lookup(asid uint32, vaddr uint64, pageSizeLog2s []uint32) (*PTEEntry, bool) {
	for _, sz := range pageSizeLog2s {
		if e, ok := t.entries[PTEKey{ASID: asid, VPage: vpage(vaddr, sz)}]; ok {
			return e, true
		}
	}
	return nil, false
}

// MarkUsed sets the used flag for the given key.
func (t *PTETable) MarkUsed(key PTEKey) {
	if e, ok := t.entries[key]; ok {
		e.Used = true
	}
}

// ClearUsed resets every entry's used flag, the first step of on-demand
// PTE-emission mode at the start of a rewrite pass.
func (t *PTETable) ClearUsed() {
	for _, e := range t.entries {
		e.Used = false
	}
}

// Live returns every entry currently in the shadow, for dump-all mode.
func (t *PTETable) Live() []PTEEntry {
	out := make([]PTEEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

// KeyFor computes the shadow key for vaddr at pageSizeLog2 granularity, for
// callers that already know which entry they're touching.
func KeyFor(asid uint32, vaddr uint64, pageSizeLog2 uint32) PTEKey {
	return PTEKey{ASID: asid, VPage: vpage(vaddr, pageSizeLog2)}
}
