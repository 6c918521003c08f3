//go:build chunkflow_debug

package invariant

// Enabled is true if the module was built with the chunkflow_debug tag.
const Enabled = true
