package model

import "fmt"

// Mode selects how the detector post-processes class scores.
type Mode int

const (
	// ModeTrain returns raw class logits.
	ModeTrain Mode = iota
	// ModeInference returns class probabilities.
	ModeInference
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeInference:
		return "inference"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "train", or "inference" and its alias "test".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "train":
		return ModeTrain, nil
	case "inference", "test":
		return ModeInference, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}
