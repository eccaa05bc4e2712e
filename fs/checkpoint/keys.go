package checkpoint

import "strings"

// DataParallelPrefix is prepended to every parameter name by models trained
// across multiple devices.
const DataParallelPrefix = "module."

// StripPrefix returns a new state dict with prefix removed from every key
// that starts with it. Keys without the prefix are kept as is.
func StripPrefix(sd *StateDict, prefix string) *StateDict {
	out := NewStateDict()
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		t := *pair.Value
		t.Name = strings.TrimPrefix(pair.Key, prefix)
		out.Add(&t)
	}
	return out
}

// Subset returns the tensors under prefix with the prefix removed.
func Subset(sd *StateDict, prefix string) *StateDict {
	out := NewStateDict()
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		if name, ok := strings.CutPrefix(pair.Key, prefix); ok {
			t := *pair.Value
			t.Name = name
			out.Add(&t)
		}
	}
	return out
}
