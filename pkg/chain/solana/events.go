package solana

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"

	"xswap/pkg/bigint"
	"xswap/pkg/types"
)

// Anchor prefixes every event with sha256("event:<Name>")[:8].
var discriminators = func() map[[8]byte]types.EventKind {
	m := make(map[[8]byte]types.EventKind)
	for _, k := range []types.EventKind{
		types.EventCallMessageSent, types.EventCallMessage, types.EventCallExecuted,
		types.EventResponseMessage, types.EventRollbackMessage,
	} {
		m[discriminator(k)] = k
	}
	return m
}()

// discriminator returns the 8 byte event tag.
func discriminator(kind types.EventKind) [8]byte {
	sum := sha256.Sum256([]byte("event:" + string(kind)))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// borshReader decodes the little-endian borsh layout of the xcall events.
type borshReader struct {
	buf []byte
	err error
}

func (r *borshReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = errors.Errorf("short event data: need %d bytes, have %d", n, len(r.buf))
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *borshReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *borshReader) bytes() []byte {
	n := r.take(4)
	if n == nil {
		return nil
	}
	return r.take(int(binary.LittleEndian.Uint32(n)))
}

func (r *borshReader) string() string {
	return string(r.bytes())
}

func (r *borshReader) u128() bigint.Int {
	b := r.take(16)
	if b == nil {
		return bigint.Int{}
	}
	be := make([]byte, 16)
	for i := range b {
		be[15-i] = b[i]
	}
	return bigint.NewInt(new(big.Int).SetBytes(be))
}

func (r *borshReader) pubkey() string {
	b := r.take(solana.PublicKeyLength)
	if b == nil {
		return ""
	}
	return solana.PublicKeyFromBytes(b).String()
}

// decodeEvent reports ok=false for program data that is not a relay event.
func decodeEvent(data []byte) (types.RelayEvent, bool, error) {
	if len(data) < 8 {
		return types.RelayEvent{}, false, nil
	}
	var d [8]byte
	copy(d[:], data[:8])
	kind, ok := discriminators[d]
	if !ok {
		return types.RelayEvent{}, false, nil
	}

	r := &borshReader{buf: data[8:]}
	ev := types.RelayEvent{Kind: kind}
	switch kind {
	case types.EventCallMessageSent:
		ev.From = r.pubkey()
		ev.To = r.string()
		ev.SN = r.u128()
	case types.EventCallMessage:
		ev.From = r.string()
		ev.To = r.string()
		ev.SN = r.u128()
		ev.ReqID = r.u128()
		ev.Data = string(r.bytes())
	case types.EventCallExecuted:
		ev.ReqID = r.u128()
		ev.Code = int64(int8(r.u8()))
		ev.Msg = r.string()
	case types.EventResponseMessage:
		ev.SN = r.u128()
		ev.Code = int64(int8(r.u8()))
	case types.EventRollbackMessage:
		ev.SN = r.u128()
	}
	if r.err != nil {
		return types.RelayEvent{}, true, errors.Wrap(r.err, string(kind))
	}
	return ev, true, nil
}

// borshWriter is the inverse of borshReader, used to build program data.
type borshWriter struct {
	bytes.Buffer
}

func (w *borshWriter) u8(v uint8) {
	w.WriteByte(v)
}

func (w *borshWriter) blob(b []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	w.Write(n[:])
	w.Write(b)
}

func (w *borshWriter) u128(v *big.Int) {
	be := v.FillBytes(make([]byte, 16))
	for i := len(be) - 1; i >= 0; i-- {
		w.WriteByte(be[i])
	}
}

// encodeEvent renders ev as xcall program data, the inverse of the decoder.
func encodeEvent(ev types.RelayEvent) ([]byte, error) {
	var w borshWriter
	d := discriminator(ev.Kind)
	w.Write(d[:])
	switch ev.Kind {
	case types.EventCallMessageSent:
		from, err := solana.PublicKeyFromBase58(ev.From)
		if err != nil {
			return nil, errors.Wrap(err, "from")
		}
		w.Write(from.Bytes())
		w.blob([]byte(ev.To))
		w.u128(ev.SN.Big())
	case types.EventCallMessage:
		w.blob([]byte(ev.From))
		w.blob([]byte(ev.To))
		w.u128(ev.SN.Big())
		w.u128(ev.ReqID.Big())
		w.blob([]byte(ev.Data))
	case types.EventCallExecuted:
		w.u128(ev.ReqID.Big())
		w.u8(uint8(int8(ev.Code)))
		w.blob([]byte(ev.Msg))
	case types.EventResponseMessage:
		w.u128(ev.SN.Big())
		w.u8(uint8(int8(ev.Code)))
	case types.EventRollbackMessage:
		w.u128(ev.SN.Big())
	default:
		return nil, errors.Errorf("unknown event kind %q", ev.Kind)
	}
	return w.Bytes(), nil
}
