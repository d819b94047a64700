package shadow

// Region classifies which privilege level an instruction executed at,
// mirroring the kernel/user code-region tracer's block types (adapted from
// a C++ KernelCodeTracer that walks the same syscall/event/exception-return
// signals to build up contiguous user/kernel blocks; this tracker answers
// the same question per-instruction instead of pre-building block ranges).
type Region uint8

// The three region classifications a ModeTracker can report.
const (
	RegionUser Region = iota
	RegionKernelSyscall
	RegionKernelOther
)

func (r Region) String() string {
	switch r {
	case RegionUser:
		return "user"
	case RegionKernelSyscall:
		return "kernel-syscall"
	case RegionKernelOther:
		return "kernel"
	}
	return "unknown"
}

// ModeTracker is a running boolean privilege-mode state, updated by
// observed syscall/fault/exception-return signals. Mode is unknown until
// the first transition signal is seen; per §4.5 it is treated as "user" by
// default until then.
type ModeTracker struct {
	inKernel      bool
	enteredViaSVC bool
}

// NewModeTracker starts in the user region, per the default-to-user rule.
func NewModeTracker() *ModeTracker {
	return &ModeTracker{}
}

// Observe updates the tracker from one instruction's classification
// signals and returns the region that instruction itself executed in.
// hasFaultEvent covers both faults and interrupts (either traps to a
// handler the same way); isSyscall and isExceptionReturn come from the
// decoder adapter's own queries on that instruction's opcode.
func (m *ModeTracker) Observe(isSyscall, isExceptionReturn, hasFaultEvent bool) Region {
	observedRegion := m.currentRegion()

	switch {
	case isExceptionReturn:
		m.inKernel = false
		m.enteredViaSVC = false
	case isSyscall:
		m.inKernel = true
		m.enteredViaSVC = true
	case hasFaultEvent:
		m.inKernel = true
		m.enteredViaSVC = false
	}
	return observedRegion
}

func (m *ModeTracker) currentRegion() Region {
	if !m.inKernel {
		return RegionUser
	}
	if m.enteredViaSVC {
		return RegionKernelSyscall
	}
	return RegionKernelOther
}

// IsUser reports whether the tracker's current state is the user region.
func (m *ModeTracker) IsUser() bool { return !m.inKernel }
