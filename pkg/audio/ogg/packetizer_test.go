package ogg

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/matryer/is"
)

// buildPage assembles one raw OGG page (with a correct CRC) carrying the
// given segments, mirroring the layout ReadPacket expects.
func buildPage(t *testing.T, beginningOfStream bool, serial uint32, index uint32, segments [][]byte) []byte {
	t.Helper()

	var payload []byte
	var segmentsTable []byte
	for _, seg := range segments {
		payload = append(payload, seg...)
		n := len(seg)
		for n >= 255 {
			segmentsTable = append(segmentsTable, 255)
			n -= 255
		}
		segmentsTable = append(segmentsTable, byte(n))
	}

	h := make([]byte, pageHeaderLen)
	copy(h[0:4], pageHeaderSignature)
	h[4] = 0 // version
	if beginningOfStream {
		h[5] = pageHeaderTypeBeginningOfStream
	}
	binary.LittleEndian.PutUint64(h[6:14], 0)
	binary.LittleEndian.PutUint32(h[14:18], serial)
	binary.LittleEndian.PutUint32(h[18:22], index)
	h[26] = byte(len(segmentsTable))

	table := crcTable()
	var checksum uint32
	update := func(v byte) {
		checksum = (checksum << 8) ^ table[byte(checksum>>24)^v]
	}
	for i, b := range h {
		if i > 21 && i < 26 {
			update(0)
			continue
		}
		update(b)
	}
	for _, s := range segmentsTable {
		update(s)
	}
	for _, b := range payload {
		update(b)
	}
	binary.LittleEndian.PutUint32(h[22:26], checksum)

	var out bytes.Buffer
	out.Write(h)
	out.Write(segmentsTable)
	out.Write(payload)
	return out.Bytes()
}

func opusHeadPayload() []byte {
	payload := make([]byte, idPagePayloadLength)
	copy(payload[0:8], idPageSignature)
	payload[8] = 1 // version
	payload[9] = 1 // channels
	binary.LittleEndian.PutUint16(payload[10:12], 312)
	binary.LittleEndian.PutUint32(payload[12:16], 48000)
	binary.LittleEndian.PutUint16(payload[16:18], 0)
	payload[18] = 0
	return payload
}

func TestPacketizerRoundTrip(t *testing.T) {
	is := is.New(t)

	pkt1 := []byte{0x08, 0xAA, 0xBB} // toc config 1 -> single 960-sample SILK frame
	pkt2 := []byte{0x00, 0xCC}       // toc config 0 -> single 480-sample SILK frame

	var stream bytes.Buffer
	stream.Write(buildPage(t, true, 1, 0, [][]byte{opusHeadPayload()}))
	stream.Write(buildPage(t, false, 1, 1, [][]byte{})) // comment page, empty is fine
	stream.Write(buildPage(t, false, 1, 2, [][]byte{pkt1, pkt2}))

	p, header, err := NewPacketizer(&stream)
	is.NoErr(err)
	is.Equal(header.Channels, uint8(1))
	is.Equal(header.SampleRate, uint32(48000))

	got1, err := p.ReadPacket()
	is.NoErr(err)
	is.Equal(got1, pkt1)

	got2, err := p.ReadPacket()
	is.NoErr(err)
	is.Equal(got2, pkt2)

	_, err = p.ReadPacket()
	is.Equal(err, io.EOF)
}

func TestPacketizerRejectsBadSignature(t *testing.T) {
	is := is.New(t)
	_, _, err := NewPacketizer(bytes.NewReader([]byte("not an ogg stream at all......")))
	is.True(err != nil)
}

func TestPacketDurationTable(t *testing.T) {
	is := is.New(t)

	cases := []struct {
		data []byte
		want int
	}{
		{[]byte{0x00}, 480},        // config 0, 1 frame
		{[]byte{0x08}, 960},        // config 1, 1 frame
		{[]byte{0x01, 0x00}, 960},  // config 0, code 1 -> 2 frames of 480
		{[]byte{0xE3, 0x04}, 4 * 120}, // config 28 (CELT 120), code 3, 4 frames
	}
	for _, c := range cases {
		got, err := PacketDuration(c.data)
		is.NoErr(err)
		is.Equal(got, c.want)
	}

	_, err := PacketDuration(nil)
	is.Equal(err, ErrInvalidPacket)
}
