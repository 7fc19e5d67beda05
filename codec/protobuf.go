package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes proto messages. Decode needs a constructor for the
// concrete message, e.g. func() *pb.Note { return &pb.Note{} }.
type Protobuf[M proto.Message] struct {
	alloc func() M
}

func NewProtobuf[M proto.Message](alloc func() M) Protobuf[M] {
	return Protobuf[M]{alloc: alloc}
}

func (c Protobuf[M]) Encode(m M) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

func (c Protobuf[M]) Decode(b []byte) (M, error) {
	m := c.alloc()
	err := proto.Unmarshal(b, m)
	return m, err
}
