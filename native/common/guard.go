package common

// PauseView reports whether a module has been paused by governance.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutating calls against a paused module. A nil view or an
// empty module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a static PauseView keyed by module name.
type Pauses map[string]bool

// IsPaused implements PauseView.
func (p Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	return p[module]
}
