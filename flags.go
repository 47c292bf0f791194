package altofs

// MountFlags is a bit-flag set controlling how Mount opens an image,
// grounded in the teacher's disko.MountFlags idiom.
type MountFlags uint32

const (
	// MountReadOnly refuses every mutating operation and skips Consistency
	// Repair's Flush at Unmount.
	MountReadOnly MountFlags = 1 << iota
	// MountVerbose is carried in the flag set but not consulted by Mount or
	// repair; repair logs its per-phase summary lines whether or not it is
	// set.
	MountVerbose
	// MountForceRepair runs Consistency Repair even when Validate reports no
	// problems, useful for `check -fix`.
	MountForceRepair
)

func (f MountFlags) ReadOnly() bool    { return f&MountReadOnly != 0 }
func (f MountFlags) Verbose() bool     { return f&MountVerbose != 0 }
func (f MountFlags) ForceRepair() bool { return f&MountForceRepair != 0 }
