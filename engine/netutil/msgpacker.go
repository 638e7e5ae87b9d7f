package netutil

import (
	"github.com/vmihailenco/msgpack"
)

// MSG_PACKER encodes every message payload on the wire and in storage documents
var MSG_PACKER MsgPacker = MessagePackMsgPacker{}

// MsgPacker encodes and decodes message payloads
type MsgPacker interface {
	// PackMsg appends the encoded msg to buf
	PackMsg(msg interface{}, buf []byte) ([]byte, error)
	UnpackMsg(data []byte, msg interface{}) error
}

// MessagePackMsgPacker uses the MessagePack format, struct fields are keyed by their msgpack tags
type MessagePackMsgPacker struct{}

func (MessagePackMsgPacker) PackMsg(msg interface{}, buf []byte) ([]byte, error) {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return buf, err
	}
	return append(buf, data...), nil
}

func (MessagePackMsgPacker) UnpackMsg(data []byte, msg interface{}) error {
	return msgpack.Unmarshal(data, msg)
}
