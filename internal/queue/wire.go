package queue

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/roach88/substrate/internal/ir"
)

var le = binary.LittleEndian

// Header flags.
const (
	FlagForward uint8 = 1 << iota
	FlagDirect
	FlagStale
)

// HeaderSize is the encoded size of one record header.
const HeaderSize = 24

// wireHeader is the fixed little-endian header of one record. Ids are only
// meaningful within one run whose nodes share a finalized dispatch table.
type wireHeader struct {
	Msg      uint32
	Func     uint32
	SrcIndex uint32
	SrcField uint32
	Size     uint32
	Flags    uint8
	_        [3]byte
}

// EncodeRecords frames records for the node exchange.
func EncodeRecords(recs []Record) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(len(recs) * (HeaderSize + 8))
	for _, r := range recs {
		if err := writeRecord(buf, r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeRecord(w io.Writer, r Record) error {
	if int(r.Q.size) != len(r.Args) {
		return fmt.Errorf("record %s carries %d bytes", r.Q, len(r.Args))
	}
	h := wireHeader{
		Msg:      uint32(r.Q.msg),
		Func:     uint32(r.Q.fn),
		SrcIndex: r.Q.src.Index,
		SrcField: r.Q.src.Field,
		Size:     r.Q.size,
	}
	if r.Q.forward {
		h.Flags |= FlagForward
	}
	if r.Q.direct {
		h.Flags |= FlagDirect
	}
	if r.Stale {
		h.Flags |= FlagStale
	}
	if err := binary.Write(w, le, &h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(r.Args); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// DecodeRecords parses a frame produced by EncodeRecords. Payloads alias b.
func DecodeRecords(b []byte) ([]Record, error) {
	var recs []Record
	off := 0
	for off < len(b) {
		if len(b)-off < HeaderSize {
			return nil, fmt.Errorf("truncated header at offset %d", off)
		}
		var h wireHeader
		if err := binary.Read(bytes.NewReader(b[off:off+HeaderSize]), le, &h); err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		off += HeaderSize
		if uint64(len(b)-off) < uint64(h.Size) {
			return nil, fmt.Errorf("truncated payload at offset %d: want %d bytes", off, h.Size)
		}
		end := off + int(h.Size)
		q := NewQinfo(ir.MsgID(h.Msg), ir.FuncID(h.Func),
			ir.DataID{Index: h.SrcIndex, Field: h.SrcField}, h.Size,
			h.Flags&FlagForward != 0, h.Flags&FlagDirect != 0)
		recs = append(recs, Record{Q: q, Args: b[off:end:end], Stale: h.Flags&FlagStale != 0})
		off = end
	}
	return recs, nil
}
