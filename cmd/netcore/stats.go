package main

import (
	"errors"
	"time"

	"netcore/pkg/databuf"
)

// statsTag starts a binary stats frame inside the otherwise line-based chat
// stream. Frame layout: tag u8, body length u16, then the body fields.
const statsTag = 0x01

const (
	statsHeader = 3                 // tag + body length
	statsFixed  = 4 + 8 + 8 + 8 + 2 // body up to the id bytes
	maxStatsID  = 64
)

var errBadFrame = errors.New("malformed stats frame")

type statsFrame struct {
	ID       string
	Peers    uint32
	BytesIn  uint64
	BytesOut uint64
	Uptime   time.Duration
}

func encodeStats(f statsFrame) []byte {
	var body databuf.Buffer
	body.WriteUint32(f.Peers)
	body.WriteUint64(f.BytesIn)
	body.WriteUint64(f.BytesOut)
	body.WriteInt64(int64(f.Uptime))
	id := f.ID
	if len(id) > maxStatsID {
		id = id[:maxStatsID]
	}
	_ = body.WriteString(id)

	var out databuf.Buffer
	out.WriteUint8(statsTag)
	out.WriteUint16(uint16(body.Len()))
	_, _ = out.Write(body.Remaining())
	return out.Bytes()
}

// decodeStats consumes one frame from b. It consumes nothing when it returns
// databuf.ErrShortBuffer (frame incomplete) or errBadFrame (not a frame).
func decodeStats(b *databuf.Buffer) (statsFrame, error) {
	rem := b.Remaining()
	if len(rem) < statsHeader {
		return statsFrame{}, databuf.ErrShortBuffer
	}
	hdr := databuf.New(rem[:statsHeader])
	if tag, _ := hdr.ReadUint8(); tag != statsTag {
		return statsFrame{}, errBadFrame
	}
	u, _ := hdr.ReadUint16()
	n := int(u)
	if n < statsFixed || n > statsFixed+maxStatsID {
		return statsFrame{}, errBadFrame
	}
	if len(rem) < statsHeader+n {
		return statsFrame{}, databuf.ErrShortBuffer
	}
	body := databuf.New(rem[statsHeader : statsHeader+n])

	var f statsFrame
	var err error
	if f.Peers, err = body.ReadUint32(); err != nil {
		return f, errBadFrame
	}
	if f.BytesIn, err = body.ReadUint64(); err != nil {
		return f, errBadFrame
	}
	if f.BytesOut, err = body.ReadUint64(); err != nil {
		return f, errBadFrame
	}
	up, err := body.ReadInt64()
	if err != nil {
		return f, errBadFrame
	}
	f.Uptime = time.Duration(up)
	if f.ID, err = body.ReadString(); err != nil || body.Len() != 0 {
		return f, errBadFrame
	}
	_, _ = b.Next(statsHeader + n)
	return f, nil
}
