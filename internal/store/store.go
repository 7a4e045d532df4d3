package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/freeeve/reframed/internal/session"
)

// Ext is the file extension used for saved sessions.
const Ext = ".rfr"

// Config configures a Store.
type Config struct {
	Logger zerolog.Logger
	Level  zstd.EncoderLevel // frame block compression, default zstd.SpeedDefault
}

// Store encodes and decodes sessions. It is safe for concurrent use.
type Store struct {
	log     zerolog.Logger
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates a Store. Call Close to release the codec resources.
func New(cfg Config) (*Store, error) {
	if cfg.Level == 0 {
		cfg.Level = zstd.SpeedDefault
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFramesRawLen))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{log: cfg.Logger, encoder: encoder, decoder: decoder}, nil
}

func (s *Store) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

// Encode serializes sess in the current container format.
func (s *Store) Encode(sess *session.Session) ([]byte, error) {
	return encodeV1(sess, s.encoder)
}

// Decode reconstructs a session from data. RFRS containers are tried first,
// then each legacy layout from oldest to newest. A session whose stored
// mapping block fails its checksum is still returned, flagged through
// MappingChecksumMismatch.
func (s *Store) Decode(data []byte) (*session.Session, error) {
	d, format, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	sess, err := d.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, format, err)
	}
	if d.mismatch {
		s.log.Warn().
			Str("format", format).
			Str("session", sess.ID().String()).
			Msg("mapping info checksum mismatch, names may be unreliable")
	}
	return sess, nil
}

// Identify reports which format data is in without building a session.
func (s *Store) Identify(data []byte) (string, error) {
	_, format, err := s.decode(data)
	return format, err
}

func (s *Store) decode(data []byte) (*decoded, string, error) {
	var versionErr error
	if hasMagic(data) {
		h, err := decodeHeader(data)
		if err != nil {
			return nil, "", err
		}
		format := fmt.Sprintf("%s v%d", Magic, h.Version)
		switch h.Version {
		case 1:
			d, err := decodeV1(h, data, s.decoder)
			return d, format, err
		}
		versionErr = fmt.Errorf("%w: %s", ErrUnsupportedVersion, format)
	}

	d, version, err := decodeLegacy(data)
	if err != nil {
		if versionErr != nil && errors.Is(err, ErrUnrecognizedFormat) {
			return nil, "", fmt.Errorf("%w: %w", ErrUnrecognizedFormat, versionErr)
		}
		return nil, "legacy " + version, err
	}
	return d, "legacy " + version, nil
}

// Save writes sess to w.
func (s *Store) Save(w io.Writer, sess *session.Session) error {
	data, err := s.Encode(sess)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Load reads everything from r and decodes it.
func (s *Store) Load(r io.Reader) (*session.Session, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return s.Decode(buf.Bytes())
}

// SaveFile writes sess to path atomically, creating parent directories.
func (s *Store) SaveFile(path string, sess *session.Session) error {
	data, err := s.Encode(sess)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-*"+Ext)
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	s.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("session saved")
	return nil
}

// LoadFile loads the session stored at path. The file is never modified.
func (s *Store) LoadFile(path string) (*session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sess, err := s.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sess, nil
}
