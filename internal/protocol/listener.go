package protocol

import (
	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

// Listener receives decoder events. All calls are made from the goroutine
// running Decoder.Run. Sessions handed to an Ended or Reset callback are
// frozen and owned by the listener from then on; a running session must not
// be mutated outside the decoder.
type Listener interface {
	OnAttemptConnect(addr string)
	OnConnectFailed(addr string, err error)
	OnConnected(addr string)
	// OnDisconnected is the final event of a connection. err is nil when the
	// console closed the stream cleanly or the decoder was stopped.
	OnDisconnected(err error)

	OnMappingInfoReceived(info *mapping.Info)

	OnGameStarted(s *session.Session)
	OnGameResumed(s *session.Session)
	OnGameEnded(s *session.Session)

	OnTrainingStarted(s *session.Session)
	OnTrainingResumed(s *session.Session)
	OnTrainingReset(old, next *session.Session)
	OnTrainingEnded(s *session.Session)
}

// NopListener implements Listener with empty methods.
type NopListener struct{}

func (NopListener) OnAttemptConnect(string)                            {}
func (NopListener) OnConnectFailed(string, error)                      {}
func (NopListener) OnConnected(string)                                 {}
func (NopListener) OnDisconnected(error)                               {}
func (NopListener) OnMappingInfoReceived(*mapping.Info)                {}
func (NopListener) OnGameStarted(*session.Session)                     {}
func (NopListener) OnGameResumed(*session.Session)                     {}
func (NopListener) OnGameEnded(*session.Session)                       {}
func (NopListener) OnTrainingStarted(*session.Session)                 {}
func (NopListener) OnTrainingResumed(*session.Session)                 {}
func (NopListener) OnTrainingReset(*session.Session, *session.Session) {}
func (NopListener) OnTrainingEnded(*session.Session)                   {}
