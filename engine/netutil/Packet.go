package netutil

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/xiaonanln/mapshard/engine/gwlog"
)

const (
	_MIN_PAYLOAD_CAP = 128
	_SIZE_FIELD_SIZE = 4
	_PREPAYLOAD_SIZE = _SIZE_FIELD_SIZE
)

var (
	// NETWORK_ENDIAN is the byte order of all integers on wire
	NETWORK_ENDIAN = binary.LittleEndian

	packetPool = sync.Pool{
		New: func() interface{} {
			p := &Packet{}
			p.bytes = p.initialBytes[:]
			return p
		},
	}
)

// Packet is a length-prefixed message buffer: 4 bytes payload length followed by the payload
type Packet struct {
	readCursor   uint32
	refcount     int64
	bytes        []byte
	initialBytes [_PREPAYLOAD_SIZE + _MIN_PAYLOAD_CAP]byte
}

func allocPacket() *Packet {
	pkt := packetPool.Get().(*Packet)
	if pkt.refcount != 0 {
		gwlog.Panicf("packet must be released when allocated from pool, but refcount=%d", pkt.refcount)
	}
	pkt.refcount = 1
	return pkt
}

// NewPacket allocates a new packet
func NewPacket() *Packet {
	return allocPacket()
}

// AddRefCount adds reference count of packet
func (p *Packet) AddRefCount(add int64) {
	atomic.AddInt64(&p.refcount, add)
}

// Release releases the packet to packet pool
func (p *Packet) Release() {
	refcount := atomic.AddInt64(&p.refcount, -1)
	if refcount == 0 {
		if len(p.bytes) > len(p.initialBytes) {
			p.bytes = p.initialBytes[:]
		}
		p.SetPayloadLen(0)
		p.readCursor = 0
		packetPool.Put(p)
	} else if refcount < 0 {
		gwlog.Panicf("releasing packet with refcount=%d", p.refcount)
	}
}

func (p *Packet) assureCapacity(need uint32) {
	requireCap := p.GetPayloadLen() + need
	oldCap := uint32(len(p.bytes) - _PREPAYLOAD_SIZE)
	if requireCap <= oldCap {
		return
	}

	newCap := oldCap * 2
	for newCap < requireCap {
		newCap *= 2
	}
	buffer := make([]byte, _PREPAYLOAD_SIZE+newCap)
	copy(buffer, p.data())
	p.bytes = buffer
}

// HasUnreadPayload returns if there is payload left to read
func (p *Packet) HasUnreadPayload() bool {
	return p.readCursor < p.GetPayloadLen()
}

func (p *Packet) data() []byte {
	return p.bytes[0 : _PREPAYLOAD_SIZE+p.GetPayloadLen()]
}

// GetPayloadLen returns the payload length
func (p *Packet) GetPayloadLen() uint32 {
	return NETWORK_ENDIAN.Uint32(p.bytes[:_SIZE_FIELD_SIZE])
}

// SetPayloadLen sets the payload length
func (p *Packet) SetPayloadLen(plen uint32) {
	NETWORK_ENDIAN.PutUint32(p.bytes[:_SIZE_FIELD_SIZE], plen)
}

// AppendUint16 appends one uint16 to the end of payload
func (p *Packet) AppendUint16(v uint16) {
	p.assureCapacity(2)
	plen := p.GetPayloadLen()
	NETWORK_ENDIAN.PutUint16(p.bytes[_PREPAYLOAD_SIZE+plen:], v)
	p.SetPayloadLen(plen + 2)
}

// AppendUint32 appends one uint32 to the end of payload
func (p *Packet) AppendUint32(v uint32) {
	p.assureCapacity(4)
	plen := p.GetPayloadLen()
	NETWORK_ENDIAN.PutUint32(p.bytes[_PREPAYLOAD_SIZE+plen:], v)
	p.SetPayloadLen(plen + 4)
}

// AppendBytes appends slice of bytes to the end of payload
func (p *Packet) AppendBytes(v []byte) {
	bytesLen := uint32(len(v))
	p.assureCapacity(bytesLen)
	plen := p.GetPayloadLen()
	copy(p.bytes[_PREPAYLOAD_SIZE+plen:], v)
	p.SetPayloadLen(plen + bytesLen)
}

// AppendVarStr appends a varsize string to the end of payload
func (p *Packet) AppendVarStr(s string) {
	p.AppendVarBytes([]byte(s))
}

// AppendVarBytes appends varsize bytes to the end of payload
func (p *Packet) AppendVarBytes(v []byte) {
	p.AppendUint32(uint32(len(v)))
	p.AppendBytes(v)
}

// ReadUint16 reads one uint16 from the beginning of unread payload
func (p *Packet) ReadUint16() (v uint16) {
	return NETWORK_ENDIAN.Uint16(p.ReadBytes(2))
}

// ReadUint32 reads one uint32 from the beginning of unread payload
func (p *Packet) ReadUint32() (v uint32) {
	return NETWORK_ENDIAN.Uint32(p.ReadBytes(4))
}

// ReadBytes reads bytes from the beginning of unread payload
func (p *Packet) ReadBytes(size uint32) []byte {
	pos := p.readCursor + _PREPAYLOAD_SIZE
	if size > p.GetPayloadLen()-p.readCursor {
		gwlog.Panicf("Packet %p: read out of range: size=%d, cursor=%d, payload=%d", p, size, p.readCursor, p.GetPayloadLen())
	}
	p.readCursor += size
	return p.bytes[pos : pos+size]
}

// ReadVarStr reads a varsize string from the beginning of unread payload
func (p *Packet) ReadVarStr() string {
	return string(p.ReadVarBytes())
}

// ReadVarBytes reads a varsize slice of bytes from the beginning of unread payload
func (p *Packet) ReadVarBytes() []byte {
	blen := p.ReadUint32()
	return p.ReadBytes(blen)
}

// AppendData appends one data of any type to the end of payload
func (p *Packet) AppendData(msg interface{}) {
	dataBytes, err := MSG_PACKER.PackMsg(msg, nil)
	if err != nil {
		gwlog.Panic(err)
	}

	p.AppendVarBytes(dataBytes)
}

// ReadData reads one data of any type from the beginning of unread payload
func (p *Packet) ReadData(msg interface{}) {
	b := p.ReadVarBytes()
	err := MSG_PACKER.UnpackMsg(b, msg)
	if err != nil {
		gwlog.Panic(err)
	}
}

