package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// OpType identifies the kind of metadata edit a record carries.
type OpType uint16

const (
	OpNoop OpType = iota
	OpCreate
	OpUpdate
	OpDelete
	OpRename
)

// frame = [payloadLen u32][crc32 u32], payload = [txid u64][op u16][data].
const (
	frameHeaderSize   = 8
	payloadHeaderSize = 10

	// MaxRecordData bounds a single record's data payload. Records are
	// batched into ledger entries; anything larger belongs in a blob store,
	// not the journal.
	MaxRecordData = 1 << 20
)

var (
	ErrNilRecord    = errors.New("codec: nil record")
	ErrRecordTooBig = fmt.Errorf("codec: record data exceeds %d bytes", MaxRecordData)
	ErrBadChecksum  = errors.New("codec: checksum mismatch")
	ErrTruncated    = errors.New("codec: truncated record")
)

// Record is one logical metadata edit. TxID is assigned by the journal
// pipeline and is strictly increasing within a segment.
type Record struct {
	TxID uint64
	Op   OpType
	Data []byte
}

// Codec serializes records into an accumulation buffer and reads them back.
// Implementations must produce self-delimiting frames: a concatenation of
// encoded records is decodable without any outer framing.
type Codec interface {
	EncodeRecord(rec *Record, buf *bytes.Buffer) error
	DecodeRecord(r io.Reader) (*Record, error)
}

// Binary is the default frame codec: a fixed header carrying payload length
// and a CRC32 (IEEE) over the payload, followed by the payload itself.
// Little endian throughout.
type Binary struct{}

func (Binary) EncodeRecord(rec *Record, buf *bytes.Buffer) error {
	if rec == nil {
		return ErrNilRecord
	}
	if len(rec.Data) > MaxRecordData {
		return ErrRecordTooBig
	}

	payloadLen := payloadHeaderSize + len(rec.Data)
	payload := make([]byte, payloadLen)
	binary.LittleEndian.PutUint64(payload[0:8], rec.TxID)
	binary.LittleEndian.PutUint16(payload[8:10], uint16(rec.Op))
	copy(payload[payloadHeaderSize:], rec.Data)

	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(payloadLen))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	buf.Write(header[:])
	buf.Write(payload)
	return nil
}

func (Binary) DecodeRecord(r io.Reader) (*Record, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, ErrTruncated
	}

	payloadLen := binary.LittleEndian.Uint32(header[0:4])
	if payloadLen < payloadHeaderSize || payloadLen > payloadHeaderSize+MaxRecordData {
		return nil, fmt.Errorf("codec: implausible payload length %d", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, ErrTruncated
	}
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:8]) {
		return nil, ErrBadChecksum
	}

	rec := &Record{
		TxID: binary.LittleEndian.Uint64(payload[0:8]),
		Op:   OpType(binary.LittleEndian.Uint16(payload[8:10])),
	}
	if n := payloadLen - payloadHeaderSize; n > 0 {
		rec.Data = payload[payloadHeaderSize:]
	}
	return rec, nil
}

// DecodeBlock decodes one transmitted ledger entry back into the complete
// record sequence it was packed from. Every block a journal writer ships is
// independently decodable; readers never need surrounding entries.
func DecodeBlock(block []byte, c Codec) ([]*Record, error) {
	if c == nil {
		c = Binary{}
	}
	var recs []*Record
	r := bytes.NewReader(block)
	for {
		rec, err := c.DecodeRecord(r)
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}
