// Package protocol implements the wire codec (C1): a length-prefixed binary
// stream of typed frames, `<tag:u8><type:u8><payload>`, where the high bit
// of type distinguishes a response from its originating command.
package protocol

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"

	"github.com/pim-systems/pimd/model"
)

// ResponseBit is the high bit of the type byte marking a response frame.
const ResponseBit uint8 = 0x80

// Reader decodes primitive wire values from a buffered byte stream. Binary
// payload bytes are read directly into caller buffers so a frame never
// requires buffering a whole large part in memory beyond its own length
// prefix (spec §4.1 edge cases).
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader { return &Reader{r: bufio.NewReader(r)} }

func (r *Reader) ReadByte() (byte, error) { return r.r.ReadByte() }

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.r.ReadByte()
	return b != 0, err
}

func (r *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// ReadTime decodes sub-second-resolution timestamps as int64 nanoseconds
// since the Unix epoch (spec §4.1: "timestamps carry sub-second
// resolution"). A zero value round-trips to the zero time.Time.
func (r *Reader) ReadTime() (time.Time, error) {
	nanos, err := r.ReadInt64()
	if err != nil {
		return time.Time{}, err
	}
	if nanos == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, nanos).UTC(), nil
}

// ReadBytes reads a length-prefixed byte array. A length of 0 yields a
// non-nil empty slice; missing (absent) values are represented at a higher
// layer by a presence flag, never by this length (spec §4.1: "empty string
// and empty list are distinct from missing").
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadStringList() ([]string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = r.ReadString(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reader) ReadInt64List() ([]int64, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		if out[i], err = r.ReadInt64(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Reader) ReadStringMap() (map[string]string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *Reader) ReadAttributes() ([]model.Attribute, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]model.Attribute, n)
	for i := range out {
		if out[i].Key, err = r.ReadBytes(); err != nil {
			return nil, err
		}
		if out[i].Value, err = r.ReadBytes(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Writer encodes primitive wire values. Encode never fails on well-formed
// inputs (spec §4.1); the only errors it returns are from the underlying
// stream write.
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: bufio.NewWriter(w)} }

func (w *Writer) Flush() error { return w.w.Flush() }

func (w *Writer) WriteByte(b byte) error { return w.w.WriteByte(b) }

func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.w.WriteByte(1)
	}
	return w.w.WriteByte(0)
}

func (w *Writer) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.w.Write(buf[:])
	return err
}

func (w *Writer) WriteInt64(v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := w.w.Write(buf[:])
	return err
}

func (w *Writer) WriteTime(t time.Time) error {
	if t.IsZero() {
		return w.WriteInt64(0)
	}
	return w.WriteInt64(t.UnixNano())
}

func (w *Writer) WriteBytes(b []byte) error {
	if err := w.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	_, err := w.w.Write(b)
	return err
}

func (w *Writer) WriteString(s string) error { return w.WriteBytes([]byte(s)) }

func (w *Writer) WriteStringList(list []string) error {
	if err := w.WriteUint32(uint32(len(list))); err != nil {
		return err
	}
	for _, s := range list {
		if err := w.WriteString(s); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) WriteInt64List(list []int64) error {
	if err := w.WriteUint32(uint32(len(list))); err != nil {
		return err
	}
	for _, v := range list {
		if err := w.WriteInt64(v); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) WriteStringMap(m map[string]string) error {
	if err := w.WriteUint32(uint32(len(m))); err != nil {
		return err
	}
	for k, v := range m {
		if err := w.WriteString(k); err != nil {
			return err
		}
		if err := w.WriteString(v); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) WriteAttributes(attrs []model.Attribute) error {
	if err := w.WriteUint32(uint32(len(attrs))); err != nil {
		return err
	}
	for _, a := range attrs {
		if err := w.WriteBytes(a.Key); err != nil {
			return err
		}
		if err := w.WriteBytes(a.Value); err != nil {
			return err
		}
	}
	return nil
}
