package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/ctxwindow/ctxwindow/types"
)

// zstdEncoder and zstdDecoder are reused across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("checkpoint: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("checkpoint: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeHistory serializes turns to JSON, compresses with zstd, and
// computes a blake3 checksum over the compressed bytes.
func EncodeHistory(turns []*types.ConversationTurn) (blob []byte, rawSize int, checksum string, err error) {
	raw, err := json.Marshal(turns)
	if err != nil {
		return nil, 0, "", fmt.Errorf("encode history: %w", err)
	}

	blob = zstdEncoder.EncodeAll(raw, nil)
	digest := blake3.Sum256(blob)
	return blob, len(raw), hex.EncodeToString(digest[:]), nil
}

// DecodeHistory verifies the checksum, decompresses, and deserializes
// a history blob. A checksum or size mismatch returns
// ErrChecksumMismatch; the caller must treat that as fatal to the
// recovery attempt.
func DecodeHistory(blob []byte, rawSize int, checksum string) ([]*types.ConversationTurn, error) {
	digest := blake3.Sum256(blob)
	if hex.EncodeToString(digest[:]) != checksum {
		return nil, fmt.Errorf("%w: blob digest does not match recorded checksum", ErrChecksumMismatch)
	}

	raw, err := zstdDecoder.DecodeAll(blob, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if len(raw) != rawSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, recorded size %d", ErrChecksumMismatch, len(raw), rawSize)
	}

	var turns []*types.ConversationTurn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return turns, nil
}
