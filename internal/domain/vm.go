package domain

// VM is a virtual machine to be placed or migrated. A VM is immutable for the
// duration of one optimization call.
type VM struct {
	ID     string    `json:"id"`
	Demand Resources `json:"demand"`
	// Created is true for VMs that already run somewhere and false for pending
	// ones.
	Created bool `json:"created"`
	// HostID is the current host, empty when the VM has none. Lookup only.
	HostID string `json:"host_id,omitempty"`
}

// IsPlaced reports whether the VM currently runs on a host.
func (vm *VM) IsPlaced() bool {
	return vm.Created && vm.HostID != ""
}

// Clone returns a copy of the VM.
func (vm *VM) Clone() *VM {
	c := *vm
	return &c
}
