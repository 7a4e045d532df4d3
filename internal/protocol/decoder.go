// Package protocol decodes the console's message stream into session events.
package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

// State is the decoder's position in the conversation.
type State uint8

const (
	AwaitingVersion State = iota
	AwaitingMapping
	AwaitingSessionStart
	InGame
	InTraining
)

func (s State) String() string {
	switch s {
	case AwaitingVersion:
		return "awaiting-version"
	case AwaitingMapping:
		return "awaiting-mapping"
	case AwaitingSessionStart:
		return "awaiting-session-start"
	case InGame:
		return "in-game"
	case InTraining:
		return "in-training"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Config configures a Decoder.
type Config struct {
	Logger zerolog.Logger

	// Cache is shared between connections so a reconnect to the same
	// console can skip the mapping transfer. nil uses a private cache.
	Cache *mapping.Cache

	// Clock stamps each received fighter state. Defaults to time.Now.
	Clock func() time.Time

	// ReadTimeout bounds each frame read when the connection supports
	// deadlines. Zero disables it.
	ReadTimeout time.Duration

	// DialTimeout bounds Dial. Default 5s.
	DialTimeout time.Duration

	// DefaultGame is copied into every new game session. The set number and
	// game number default to 1.
	DefaultGame session.GameMeta
}

// Decoder owns a connection to the console and turns its frames into
// listener events. Create it with Dial or NewDecoder and drive it with Run.
type Decoder struct {
	cfg      Config
	log      zerolog.Logger
	conn     io.ReadWriteCloser
	r        *bufio.Reader
	addr     string
	listener Listener

	state    State
	pending  *mapping.Info // mapping being received
	deferred *mapping.Info // mapping completed while a session was live
	active   *mapping.Info
	sess     *session.Session
	slots    []uint8 // console entry id per player index
	lastTS   uint64
}

// Dial connects to addr and returns a decoder owning the connection.
// OnAttemptConnect is always fired; OnConnectFailed is fired on failure and
// the returned error is a *TransportError.
func Dial(ctx context.Context, addr string, l Listener, cfg Config) (*Decoder, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	l.OnAttemptConnect(addr)
	cfg.Logger.Info().Str("addr", addr).Msg("connecting")

	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		terr := &TransportError{Op: "dial", Addr: addr, Err: err}
		cfg.Logger.Error().Err(err).Str("addr", addr).Msg("connect failed")
		l.OnConnectFailed(addr, terr)
		return nil, terr
	}
	return NewDecoder(conn, addr, l, cfg), nil
}

// NewDecoder wraps an established connection. Ownership of conn moves to
// the decoder.
func NewDecoder(conn io.ReadWriteCloser, addr string, l Listener, cfg Config) *Decoder {
	if cfg.Cache == nil {
		cfg.Cache = &mapping.Cache{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DefaultGame.SetNumber == 0 {
		cfg.DefaultGame.SetNumber = 1
	}
	if cfg.DefaultGame.GameNumber == 0 {
		cfg.DefaultGame.GameNumber = 1
	}
	return &Decoder{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("addr", addr).Logger(),
		conn:     conn,
		r:        bufio.NewReader(conn),
		addr:     addr,
		listener: l,
	}
}

// State returns the current decoder state. Only meaningful from listener
// callbacks or after Run returned.
func (d *Decoder) State() State { return d.state }

// Close closes the connection, which makes Run return.
func (d *Decoder) Close() error { return d.conn.Close() }

// Run performs the handshake and then decodes frames until the stream ends,
// a transport error occurs or ctx is cancelled. A live session is always
// ended before OnDisconnected fires. The error is nil for a clean end of
// stream or cancellation; an unsupported version is reported through
// OnConnectFailed and returned wrapped in ErrUnsupportedVersion.
func (d *Decoder) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { d.conn.Close() })
	defer stop()
	defer d.conn.Close()

	if err := d.send(MsgProtocolVersion); err != nil {
		d.listener.OnConnectFailed(d.addr, err)
		return err
	}

	for {
		if d.cfg.ReadTimeout > 0 {
			if dc, ok := d.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
				_ = dc.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
			}
		}
		f, err := readFrame(d.r)
		if err != nil {
			return d.disconnect(ctx, err)
		}
		if err := d.handle(f); err != nil {
			var derr *DecodeError
			if errors.As(err, &derr) {
				d.log.Warn().Err(err).Stringer("state", d.state).Msg("skipping malformed message")
				continue
			}
			if errors.Is(err, ErrUnsupportedVersion) {
				d.listener.OnConnectFailed(d.addr, err)
				return err
			}
			return d.disconnect(ctx, err)
		}
	}
}

func (d *Decoder) disconnect(ctx context.Context, cause error) error {
	if d.state == AwaitingVersion {
		terr := &TransportError{Op: "handshake", Addr: d.addr, Err: cause}
		d.log.Error().Err(cause).Msg("connection closed before version")
		d.listener.OnConnectFailed(d.addr, terr)
		return terr
	}
	d.endSession("disconnected")

	var ret error
	switch {
	case ctx.Err() != nil, errors.Is(cause, io.EOF):
		d.log.Info().Msg("disconnected")
	default:
		var terr *TransportError
		if !errors.As(cause, &terr) {
			terr = &TransportError{Op: "read", Addr: d.addr, Err: cause}
		}
		d.log.Error().Err(terr).Msg("disconnected")
		ret = terr
	}
	d.listener.OnDisconnected(ret)
	return ret
}

func (d *Decoder) send(types ...MessageType) error {
	var buf []byte
	for _, t := range types {
		buf = AppendFrame(buf, t, nil)
	}
	if _, err := d.conn.Write(buf); err != nil {
		return &TransportError{Op: "write", Addr: d.addr, Err: err}
	}
	return nil
}

func (d *Decoder) handle(f Frame) error {
	if d.state == AwaitingVersion && f.Type != MsgProtocolVersion {
		d.log.Debug().Stringer("type", f.Type).Msg("ignoring message before version")
		return nil
	}

	switch f.Type {
	case MsgProtocolVersion:
		return d.handleVersion(f.Payload)

	case MsgMappingInfoChecksum:
		sum, err := decodeU32(f.Type, f.Payload)
		if err != nil {
			return err
		}
		if cached := d.cfg.Cache.Load(); cached != nil && cached.ConsoleChecksum == sum {
			d.log.Info().Uint32("checksum", sum).Msg("mapping info unchanged, using cache")
			if d.sess != nil {
				d.deferred = cached
				return nil
			}
			d.installMapping(cached)
			return nil
		}
		d.log.Info().Uint32("checksum", sum).Msg("requesting mapping info")
		return d.send(MsgMappingInfoRequest)

	case MsgMappingInfoRequest:
		sum, err := decodeU32(f.Type, f.Payload)
		if err != nil {
			return err
		}
		d.pending = &mapping.Info{ConsoleChecksum: sum}
		return nil

	case MsgFighterKind, MsgStatusKind, MsgStageKind, MsgHitStatusKind:
		return d.handleMappingEntry(f)

	case MsgMappingInfoComplete:
		if d.pending == nil {
			return &DecodeError{Type: f.Type, Err: errors.New("no mapping transfer in progress")}
		}
		info := d.pending
		d.pending = nil
		d.log.Info().
			Int("fighters", info.Fighter.Len()).
			Int("stages", info.Stage.Len()).
			Int("statuses", info.Status.Base().Len()).
			Msg("mapping info received")
		d.cfg.Cache.Store(info)
		if d.sess != nil {
			d.deferred = info
			return nil
		}
		d.installMapping(info)
		return nil

	case MsgGameStart, MsgGameResume:
		m, err := decodeGameStart(f.Type, f.Payload)
		if err != nil {
			return err
		}
		return d.startGame(f.Type == MsgGameResume, m)

	case MsgTrainingStart, MsgTrainingResume:
		m, err := decodeTrainingStart(f.Type, f.Payload)
		if err != nil {
			return err
		}
		return d.startTraining(f.Type == MsgTrainingResume, m)

	case MsgGameEnd:
		if d.state != InGame {
			d.log.Debug().Stringer("state", d.state).Msg("game end without game")
			return nil
		}
		d.endSession("game end")
		return nil

	case MsgTrainingEnd:
		if d.state != InTraining {
			d.log.Debug().Stringer("state", d.state).Msg("training end without training")
			return nil
		}
		d.endSession("training end")
		return nil

	case MsgTrainingReset:
		return d.resetTraining()

	case MsgFighterState:
		ts := d.now()
		m, err := decodeFighterState(f.Payload)
		if err != nil {
			return err
		}
		return d.addState(ts, m)
	}

	d.log.Debug().Stringer("type", f.Type).Int("len", len(f.Payload)).Msg("skipping unknown message")
	return nil
}

func (d *Decoder) handleVersion(p []byte) error {
	v, err := decodeVersion(p)
	if err != nil {
		return err
	}
	if d.state != AwaitingVersion {
		return nil
	}
	if v.major != SupportedMajor {
		d.log.Error().
			Uint8("major", v.major).Uint8("minor", v.minor).
			Int("supported", SupportedMajor).
			Msg("unsupported protocol version")
		return fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, v.major, v.minor)
	}
	d.log.Info().Uint8("major", v.major).Uint8("minor", v.minor).Msg("connected")
	d.listener.OnConnected(d.addr)
	d.state = AwaitingMapping
	return d.send(MsgMappingInfoChecksum)
}

func (d *Decoder) handleMappingEntry(f Frame) error {
	if d.pending == nil {
		return &DecodeError{Type: f.Type, Err: errors.New("mapping entry outside of transfer")}
	}
	switch f.Type {
	case MsgFighterKind:
		m, err := decodeNamedU8(f.Type, f.Payload)
		if err != nil {
			return err
		}
		d.pending.Fighter.Add(mapping.FighterID(m.id), m.name)
	case MsgStageKind:
		m, err := decodeNamedU16(f.Type, f.Payload)
		if err != nil {
			return err
		}
		d.pending.Stage.Add(mapping.StageID(m.id), m.name)
	case MsgHitStatusKind:
		m, err := decodeNamedU8(f.Type, f.Payload)
		if err != nil {
			return err
		}
		d.pending.HitStatus.Add(mapping.HitStatus(m.id), m.name)
	case MsgStatusKind:
		m, err := decodeStatusKind(f.Payload)
		if err != nil {
			return err
		}
		if m.fighter == mapping.BaseFighter {
			d.pending.Status.AddBase(m.status, m.name)
		} else {
			d.pending.Status.AddSpecific(m.fighter, m.status, m.name)
		}
	}
	return nil
}

// installMapping makes info the mapping for new sessions and asks the
// console to resume anything already running.
func (d *Decoder) installMapping(info *mapping.Info) {
	d.active = info
	d.listener.OnMappingInfoReceived(info)
	if d.state == AwaitingMapping {
		d.state = AwaitingSessionStart
		if err := d.send(MsgGameResume, MsgTrainingResume); err != nil {
			d.log.Warn().Err(err).Msg("resume request failed")
		}
	}
}

func (d *Decoder) startGame(resume bool, m gameStartMsg) error {
	if d.active == nil {
		return &DecodeError{Type: MsgGameStart, Err: errors.New("game started before mapping info")}
	}
	if len(m.fighters) != len(m.slots) || len(m.tags) != len(m.slots) {
		return &DecodeError{Type: MsgGameStart, Err: errors.New("player field length mismatch")}
	}
	d.endSession("new game")

	meta := d.cfg.DefaultGame
	meta.PlayerNames = nil
	s, err := session.NewRunning(session.Params{
		Mapping:  d.active,
		Stage:    m.stage,
		Fighters: m.fighters,
		Tags:     m.tags,
		Game:     &meta,
	})
	if err != nil {
		return &DecodeError{Type: MsgGameStart, Err: err}
	}
	d.sess, d.slots, d.state = s, m.slots, InGame

	d.log.Info().
		Bool("resume", resume).
		Uint16("stage", uint16(m.stage)).
		Strs("tags", m.tags).
		Msg("game started")
	if resume {
		d.listener.OnGameResumed(s)
	} else {
		d.listener.OnGameStarted(s)
	}
	return nil
}

func (d *Decoder) startTraining(resume bool, m trainingStartMsg) error {
	if d.active == nil {
		return &DecodeError{Type: MsgTrainingStart, Err: errors.New("training started before mapping info")}
	}
	d.endSession("new training")

	s, err := session.NewRunning(session.Params{
		Mapping:  d.active,
		Stage:    m.stage,
		Fighters: []mapping.FighterID{m.player, m.cpu},
		Tags:     []string{"Player 1", "CPU"},
		Training: &session.TrainingMeta{PlayerFighter: m.player, CPUFighter: m.cpu},
	})
	if err != nil {
		return &DecodeError{Type: MsgTrainingStart, Err: err}
	}
	// training always uses entry ids 0 and 1
	d.sess, d.slots, d.state = s, []uint8{0, 1}, InTraining

	d.log.Info().
		Bool("resume", resume).
		Uint16("stage", uint16(m.stage)).
		Uint8("player", uint8(m.player)).
		Uint8("cpu", uint8(m.cpu)).
		Msg("training started")
	if resume {
		d.listener.OnTrainingResumed(s)
	} else {
		d.listener.OnTrainingStarted(s)
	}
	return nil
}

func (d *Decoder) resetTraining() error {
	if d.state != InTraining {
		d.log.Debug().Stringer("state", d.state).Msg("training reset without training")
		return nil
	}
	old := d.sess
	if err := old.ResetTraining(); err != nil {
		return &DecodeError{Type: MsgTrainingReset, Err: err}
	}
	next, err := session.NewRunning(old.Params())
	if err != nil {
		return &DecodeError{Type: MsgTrainingReset, Err: err}
	}
	d.sess = next
	d.log.Info().Msg("training reset")
	d.listener.OnTrainingReset(old, next)
	return nil
}

// endSession freezes and hands off the live session, if any, then applies a
// mapping update that arrived while it ran.
func (d *Decoder) endSession(reason string) {
	s := d.sess
	if s != nil {
		d.sess, d.slots = nil, nil
		s.Freeze()
		d.log.Info().Str("reason", reason).Stringer("kind", s.Kind()).Msg("session ended")
		if d.state == InTraining {
			d.listener.OnTrainingEnded(s)
		} else {
			d.listener.OnGameEnded(s)
		}
		d.state = AwaitingSessionStart
	}
	if d.deferred != nil {
		info := d.deferred
		d.deferred = nil
		d.active = info
		d.listener.OnMappingInfoReceived(info)
	}
}

func (d *Decoder) addState(ts uint64, m fighterStateMsg) error {
	if d.sess == nil {
		d.log.Debug().Uint8("slot", m.slot).Msg("fighter state outside of session")
		return nil
	}
	player := -1
	for i, slot := range d.slots {
		if slot == m.slot {
			player = i
			break
		}
	}
	if player < 0 {
		d.log.Warn().Uint8("slot", m.slot).Msg("fighter state for unknown slot")
		return nil
	}
	st := m.state
	st.TimeStamp = ts
	if err := d.sess.AddPlayerState(player, st); err != nil {
		return &DecodeError{Type: MsgFighterState, Err: err}
	}
	return nil
}

// now returns the clock in ms, never going backwards within a connection.
func (d *Decoder) now() uint64 {
	ts := uint64(d.cfg.Clock().UnixMilli())
	if ts < d.lastTS {
		ts = d.lastTS
	}
	d.lastTS = ts
	return ts
}
