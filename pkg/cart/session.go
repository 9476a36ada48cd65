package cart

// Logger is an optional structured logger. Any logging framework can be
// adapted to it.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SessionContext is owned by the caller and passed to identification and
// transfer calls. It replaces any process-wide slot or mode selectors: the
// active slot and the profile of the inserted cartridge live here.
type SessionContext struct {
	Slot Slot

	profile *Profile
}

// NewSession starts a session on the given slot with no profile.
func NewSession(slot Slot) *SessionContext {
	return &SessionContext{Slot: slot}
}

// Profile returns the current profile, if identification has run.
func (s *SessionContext) Profile() (Profile, bool) {
	if s.profile == nil {
		return Profile{}, false
	}
	return *s.profile, true
}

// SetProfile records the profile produced by identification.
func (s *SessionContext) SetProfile(p Profile) {
	p.IdentifierCode = append([]byte(nil), p.IdentifierCode...)
	s.profile = &p
}

// Eject discards the profile; call it when a cartridge change is detected.
func (s *SessionContext) Eject() {
	s.profile = nil
}

// Active returns the profile transfers should use, or the reason no
// transfer may run.
func (s *SessionContext) Active() (Profile, error) {
	if s.profile == nil {
		return Profile{}, ErrUnresolvedChip
	}
	if err := s.profile.Usable(); err != nil {
		return *s.profile, err
	}
	return *s.profile, nil
}
