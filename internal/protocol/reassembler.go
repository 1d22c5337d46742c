package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/smallnest/ringbuffer"
)

// DefaultReassemblyBufferSize bounds the bytes a Reassembler holds between packets.
const DefaultReassemblyBufferSize = 8192

// Reassembler accumulates one fragmented Data Source stream into a NotificationData.
//
// The stream opens with [commandId][uid0..3] and continues with {attrId, len_lo, len_hi,
// value...} tuples that may be split at any byte boundary across packets. The reassembler
// finishes once every attribute requested for its PendingNotification has been consumed.
//
// A Reassembler is not safe for concurrent use.
type Reassembler struct {
	pending  *PendingNotification
	expected int
	buf      *ringbuffer.RingBuffer

	headerDone bool
	inAttr     bool
	attrID     AttributeID
	attrLen    int
	consumed   int

	data     NotificationData
	finished bool
}

// NewReassembler binds a reassembler to the pending notification whose stream just started.
func NewReassembler(p *PendingNotification, bufferSize int) *Reassembler {
	if bufferSize <= 0 {
		bufferSize = DefaultReassemblyBufferSize
	}
	return &Reassembler{
		pending:  p,
		expected: len(p.RequestedAttributes()),
		buf:      ringbuffer.New(bufferSize),
		data:     newNotificationData(p),
	}
}

// UID returns the identifier of the notification being reassembled.
func (r *Reassembler) UID() UID {
	return r.pending.UID
}

// Process appends one Data Source packet and consumes every complete attribute it closes.
// Bytes arriving after the stream finished are ignored.
func (r *Reassembler) Process(packet []byte) error {
	if r.finished || len(packet) == 0 {
		return nil
	}

	if r.buf.Capacity()-r.buf.Length() < len(packet) {
		return fmt.Errorf("notification %s: %w (%d bytes buffered, %d incoming)", r.pending.UID, ErrBufferOverflow, r.buf.Length(), len(packet))
	}
	if _, err := r.buf.Write(packet); err != nil {
		return fmt.Errorf("notification %s: buffer write: %w", r.pending.UID, err)
	}

	return r.drain()
}

func (r *Reassembler) drain() error {
	for !r.finished {
		if !r.headerDone {
			if r.buf.Length() < streamHeaderSize {
				return nil
			}
			if _, err := r.read(streamHeaderSize); err != nil {
				return err
			}
			r.headerDone = true
			continue
		}

		if !r.inAttr {
			if r.buf.Length() < attributeHeaderSize {
				return nil
			}
			hdr, err := r.read(attributeHeaderSize)
			if err != nil {
				return err
			}
			r.attrID = AttributeID(hdr[0])
			r.attrLen = int(binary.LittleEndian.Uint16(hdr[1:3]))
			r.inAttr = true

			if r.attrLen > r.buf.Capacity() {
				return fmt.Errorf("notification %s: attribute %d declares %d bytes: %w", r.pending.UID, r.attrID, r.attrLen, ErrBufferOverflow)
			}
		}

		if r.buf.Length() < r.attrLen {
			return nil
		}
		value, err := r.read(r.attrLen)
		if err != nil {
			return err
		}

		r.data.setAttribute(r.attrID, value)
		r.inAttr = false
		r.consumed++
		if r.consumed >= r.expected {
			r.finished = true
			r.buf.Reset()
		}
	}
	return nil
}

func (r *Reassembler) read(n int) ([]byte, error) {
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	got, err := r.buf.Read(out)
	if err != nil {
		return nil, fmt.Errorf("notification %s: buffer read: %w", r.pending.UID, err)
	}
	if got != n {
		return nil, fmt.Errorf("notification %s: buffer read %d of %d bytes: %w", r.pending.UID, got, n, ErrShortPacket)
	}
	return out, nil
}

// Finished reports whether every requested attribute has been consumed.
func (r *Reassembler) Finished() bool {
	return r.finished
}

// Result returns the finalized notification, or nil while the stream is incomplete.
func (r *Reassembler) Result() *NotificationData {
	if !r.finished {
		return nil
	}
	data := r.data
	return &data
}
