package shadow

// DepKey is an opaque dependency key: a register id for the register-based
// policies, or a masked memory address for the store/load policy. The two
// spaces never collide in practice since callers run one Tracker per
// policy, never mixing keys from different policies in the same map.
type DepKey uint64

// InstructionView is the minimal view a DependencyPolicy needs of one
// instruction. pkg/stf/inst's Instruction satisfies it; defined here
// (rather than imported) so shadow has no dependency on inst, keeping the
// dependency direction inst -> shadow one-way.
type InstructionView interface {
	Index() uint64
	DestRegs() []uint64
	SourceRegs() []uint64
	IsLoad() bool
	IsStore() bool
	MemAddrs() []uint64
}

// DependencyPolicy generalizes the three specializations named in §4.7
// (register-register, store-load, load-load) behind one interface, the
// way the original's CRTP base parameterizes a single generic tracker over
// a key-extraction/producer-update policy.
type DependencyPolicy interface {
	// Producers returns the dependency keys inst produces (e.g. its
	// non-x0 destination registers).
	Producers(inst InstructionView) []DepKey
	// Consumers returns the dependency keys inst consumes, to be matched
	// against the most recent producer of each.
	Consumers(inst InstructionView) []DepKey
	// Evicts reports whether inst invalidates the outstanding producer
	// for key, even though inst is not itself a producer of key.
	Evicts(inst InstructionView, key DepKey) bool
}

// Dependency is one resolved producer-consumer pair: how many instructions
// back the producer was, and which key matched.
type Dependency struct {
	Distance uint64
	Key      DepKey
}

// Tracker matches each instruction's consumed keys against the latest
// producer of that key within a max_distance window (§4.7).
type Tracker struct {
	policy      DependencyPolicy
	maxDistance uint64
	producers   map[DepKey]uint64
}

// NewTracker returns a Tracker enforcing policy within the given window.
func NewTracker(policy DependencyPolicy, maxDistance uint64) *Tracker {
	return &Tracker{policy: policy, maxDistance: maxDistance, producers: make(map[DepKey]uint64)}
}

// Observe processes one instruction in index order: first resolves its
// consumed keys against outstanding producers (returning matches within the
// window), then applies evictions, then records any new producers.
func (t *Tracker) Observe(inst InstructionView) []Dependency {
	var deps []Dependency
	for _, key := range t.policy.Consumers(inst) {
		idx, ok := t.producers[key]
		if !ok {
			continue
		}
		dist := inst.Index() - idx
		if dist <= t.maxDistance {
			deps = append(deps, Dependency{Distance: dist, Key: key})
		}
	}
	for key := range t.producers {
		if t.policy.Evicts(inst, key) {
			delete(t.producers, key)
		}
	}
	for _, key := range t.policy.Producers(inst) {
		t.producers[key] = inst.Index()
	}
	return deps
}

// RegRegPolicy is the register-register specialization: a dest operand
// produces, a source operand (excluding x0) consumes.
type RegRegPolicy struct{}

func (RegRegPolicy) Producers(inst InstructionView) []DepKey {
	return regKeys(inst.DestRegs())
}

func (RegRegPolicy) Consumers(inst InstructionView) []DepKey {
	return regKeys(inst.SourceRegs())
}

func (RegRegPolicy) Evicts(InstructionView, DepKey) bool { return false }

// StoreLoadPolicy is the store->load specialization: a store produces at
// its (alignment-masked) address, a load consumes at the same masked
// address.
type StoreLoadPolicy struct {
	AlignMask uint64
}

func (p StoreLoadPolicy) Producers(inst InstructionView) []DepKey {
	if !inst.IsStore() {
		return nil
	}
	return addrKeys(inst.MemAddrs(), p.AlignMask)
}

func (p StoreLoadPolicy) Consumers(inst InstructionView) []DepKey {
	if !inst.IsLoad() {
		return nil
	}
	return addrKeys(inst.MemAddrs(), p.AlignMask)
}

func (StoreLoadPolicy) Evicts(InstructionView, DepKey) bool { return false }

// LoadLoadPolicy is the load->load specialization: a load produces at its
// destination register; any later load sourcing that register consumes;
// an intervening non-load write to that register evicts the producer.
type LoadLoadPolicy struct{}

func (LoadLoadPolicy) Producers(inst InstructionView) []DepKey {
	if !inst.IsLoad() {
		return nil
	}
	return regKeys(inst.DestRegs())
}

func (LoadLoadPolicy) Consumers(inst InstructionView) []DepKey {
	if !inst.IsLoad() {
		return nil
	}
	return regKeys(inst.SourceRegs())
}

func (LoadLoadPolicy) Evicts(inst InstructionView, key DepKey) bool {
	if inst.IsLoad() {
		return false
	}
	for _, d := range inst.DestRegs() {
		if DepKey(d) == key {
			return true
		}
	}
	return false
}

func regKeys(regs []uint64) []DepKey {
	var keys []DepKey
	for _, r := range regs {
		if r == 0 {
			continue
		}
		keys = append(keys, DepKey(r))
	}
	return keys
}

func addrKeys(addrs []uint64, mask uint64) []DepKey {
	var keys []DepKey
	for _, a := range addrs {
		keys = append(keys, DepKey(a&^(mask)))
	}
	return keys
}
