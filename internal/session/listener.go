package session

// Listener receives session notifications. Calls happen synchronously on the
// goroutine that mutated the session; implementations must not block.
type Listener interface {
	OnPlayerNameChanged(s *Session, player int, name string)
	OnSetNumberChanged(s *Session, number int)
	OnGameNumberChanged(s *Session, number int)
	OnFormatChanged(s *Session, format SetFormat)
	OnWinnerChanged(s *Session, winner int)

	// OnNewPlayerState fires for every appended state.
	OnNewPlayerState(s *Session, player int, state PlayerState)
	// OnNewUniquePlayerState fires only when state differs from the
	// previous state of the same player.
	OnNewUniquePlayerState(s *Session, player int, state PlayerState)

	OnTrainingReset(s *Session)
}

// NopListener implements Listener with empty methods. Embed it to pick only
// the notifications you need.
type NopListener struct{}

func (NopListener) OnPlayerNameChanged(*Session, int, string)         {}
func (NopListener) OnSetNumberChanged(*Session, int)                  {}
func (NopListener) OnGameNumberChanged(*Session, int)                 {}
func (NopListener) OnFormatChanged(*Session, SetFormat)               {}
func (NopListener) OnWinnerChanged(*Session, int)                     {}
func (NopListener) OnNewPlayerState(*Session, int, PlayerState)       {}
func (NopListener) OnNewUniquePlayerState(*Session, int, PlayerState) {}
func (NopListener) OnTrainingReset(*Session)                          {}
