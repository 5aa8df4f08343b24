package rsyncwire

import (
	"bytes"
	"io"
	"testing"
)

func TestInt64Roundtrip(t *testing.T) {
	for _, v := range []int64{0, 1, 0x7FFFFFFF, 0x80000000, 1 << 40, -1} {
		var buf bytes.Buffer
		c := &Conn{Reader: &buf, Writer: &buf}
		if err := c.WriteInt64(v); err != nil {
			t.Fatalf("WriteInt64(%d): %v", v, err)
		}
		got, err := c.ReadInt64()
		if err != nil {
			t.Fatalf("ReadInt64 after WriteInt64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("roundtrip %d: got %d", v, got)
		}
	}
}

func TestInt64SmallValuesAvoidEscape(t *testing.T) {
	var buf bytes.Buffer
	c := &Conn{Reader: &buf, Writer: &buf}
	if err := c.WriteInt64(42); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 4 {
		t.Errorf("small int64 should be encoded in 4 bytes, wrote %d", buf.Len())
	}
}

func TestMultiplexRoundtrip(t *testing.T) {
	var wire bytes.Buffer
	mw := &MultiplexWriter{Writer: &wire}

	if err := mw.WriteMsg(MsgInfo, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := mw.Write([]byte("payload-one")); err != nil {
		t.Fatal(err)
	}
	if _, err := mw.Write([]byte("payload-two")); err != nil {
		t.Fatal(err)
	}

	var gotInfo []byte
	mr := &MultiplexReader{
		Reader: &wire,
		Sink: func(tag MsgType, payload []byte) {
			if tag == MsgInfo {
				gotInfo = payload
			}
		},
	}

	data, err := io.ReadAll(io.LimitReader(mr, int64(len("payload-onepayload-two"))))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "payload-onepayload-two"; got != want {
		t.Errorf("demuxed payload = %q, want %q", got, want)
	}
	if got, want := string(gotInfo), "hello"; got != want {
		t.Errorf("sink saw info message %q, want %q", got, want)
	}
}
