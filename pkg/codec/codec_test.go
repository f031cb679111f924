package codec

import (
	"bytes"
	"io"
	"testing"
)

func TestBinary_EncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	c := Binary{}

	in := &Record{TxID: 42, Op: OpCreate, Data: []byte("mkdir /a/b")}
	if err := c.EncodeRecord(in, &buf); err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	out, err := c.DecodeRecord(&buf)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if out.TxID != 42 || out.Op != OpCreate || !bytes.Equal(out.Data, []byte("mkdir /a/b")) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestBinary_RejectsNilAndOversized(t *testing.T) {
	var buf bytes.Buffer
	c := Binary{}

	if err := c.EncodeRecord(nil, &buf); err != ErrNilRecord {
		t.Fatalf("expected ErrNilRecord, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer must stay untouched on error, has %d bytes", buf.Len())
	}

	big := &Record{TxID: 1, Data: make([]byte, MaxRecordData+1)}
	if err := c.EncodeRecord(big, &buf); err != ErrRecordTooBig {
		t.Fatalf("expected ErrRecordTooBig, got %v", err)
	}
}

func TestBinary_ChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	c := Binary{}
	if err := c.EncodeRecord(&Record{TxID: 7, Op: OpDelete, Data: []byte("rm /x")}, &buf); err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff // corrupt the payload tail

	if _, err := c.DecodeRecord(bytes.NewReader(raw)); err != ErrBadChecksum {
		t.Fatalf("expected ErrBadChecksum, got %v", err)
	}
}

func TestBinary_Truncated(t *testing.T) {
	var buf bytes.Buffer
	c := Binary{}
	if err := c.EncodeRecord(&Record{TxID: 9, Data: []byte("payload")}, &buf); err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	raw := buf.Bytes()
	if _, err := c.DecodeRecord(bytes.NewReader(raw[:len(raw)-3])); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeBlock_SelfContained(t *testing.T) {
	var buf bytes.Buffer
	c := Binary{}
	for i := uint64(1); i <= 5; i++ {
		if err := c.EncodeRecord(&Record{TxID: i, Op: OpUpdate, Data: []byte{byte(i)}}, &buf); err != nil {
			t.Fatalf("EncodeRecord %d: %v", i, err)
		}
	}

	// A block is exactly the concatenation of complete frames; decoding it
	// needs no surrounding context.
	recs, err := DecodeBlock(buf.Bytes(), c)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec.TxID != uint64(i+1) {
			t.Fatalf("record %d has txid %d", i, rec.TxID)
		}
	}
}

func TestDecodeBlock_Empty(t *testing.T) {
	recs, err := DecodeBlock(nil, nil)
	if err != nil {
		t.Fatalf("DecodeBlock(nil): %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
}

func TestBinary_EOFOnEmptyReader(t *testing.T) {
	if _, err := (Binary{}).DecodeRecord(bytes.NewReader(nil)); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
