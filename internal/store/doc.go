// Package store persists sessions.
//
// The current writer emits a single container format (RFRS). The loader also
// understands five historical JSON layouts (1.0 through 1.4) which it tries
// in order when a payload is not an RFRS container. Loading a legacy file
// never rewrites it; re-save it explicitly to upgrade.
//
// File Formats:
//   - RFRS v1: fixed header, mapping block with CRC32, metadata block and a
//     zstd-compressed, byte-striped frame block
//   - Legacy 1.0-1.4: JSON documents, either raw, gzip-wrapped or wrapped in
//     Qt's qCompress framing (4-byte big-endian length + zlib)
//
// Key Features:
//   - Byte-striped frame layout with delta-encoded timestamps for better
//     compression ratios
//   - Mapping block checksum flags sessions whose tables may be unreliable
//     without refusing to load them
package store
