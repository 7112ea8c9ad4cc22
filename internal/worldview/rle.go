package worldview

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// decodeRLE decodes base64(uvarint block_id, uvarint run_len)* into exactly
// want palette ids.
func decodeRLE(b64 string, want int) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, 0, want)
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("block id too large: %d", b)
		}
		if run > uint64(want-len(out)) {
			return nil, fmt.Errorf("run of %d overflows %d voxels", run, want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(b))
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("decoded %d voxels, want %d", len(out), want)
	}
	return out, nil
}

// encodeRLE is the inverse of decodeRLE.
func encodeRLE(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	for i := 0; i < len(ids); {
		b := ids[i]
		run := 1
		for i+run < len(ids) && ids[i+run] == b {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
