package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/k-code-yt/gogo-lamp/internal/payment/domain"
	goavro "github.com/linkedin/goavro/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type EncoderType string

const (
	EncoderType_JSON  EncoderType = "json"
	EncoderType_AVRO  EncoderType = "avro"
	EncoderType_PROTO EncoderType = "proto"
)

const PaymentEventAvroSchema = `{
  "type": "record",
  "name": "PaymentEvent",
  "namespace": "gogolamp",
  "fields": [
    {"name": "type", "type": "string"},
    {"name": "amount", "type": "double"},
    {"name": "currency", "type": "string"},
    {"name": "timestamp", "type": {"type": "long", "logicalType": "timestamp-millis"}},
    {"name": "paymentId", "type": "string"}
  ]
}`

type Encoder interface {
	Encode(e *domain.PaymentEvent) ([]byte, error)
	GetType() EncoderType
}

func NewEncoder(t EncoderType) (Encoder, error) {
	switch t {
	case EncoderType_JSON, "":
		return &JsonEncoder{}, nil
	case EncoderType_AVRO:
		return NewAvroEncoder()
	case EncoderType_PROTO:
		return &ProtoEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown encoder type %q", t)
	}
}

type JsonEncoder struct{}

func (e *JsonEncoder) Encode(ev *domain.PaymentEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

func (e *JsonEncoder) GetType() EncoderType {
	return EncoderType_JSON
}

type AvroEncoder struct {
	codec *goavro.Codec
}

func NewAvroEncoder() (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(PaymentEventAvroSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to build avro codec: %w", err)
	}
	return &AvroEncoder{codec: codec}, nil
}

func (e *AvroEncoder) Encode(ev *domain.PaymentEvent) ([]byte, error) {
	native := map[string]any{
		"type":      ev.Type,
		"amount":    ev.Amount,
		"currency":  ev.Currency,
		"timestamp": ev.Timestamp.UTC(),
		"paymentId": ev.PaymentID,
	}
	b, err := e.codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("failed to avro encode event: %w", err)
	}
	return b, nil
}

func (e *AvroEncoder) GetType() EncoderType {
	return EncoderType_AVRO
}

// ProtoEncoder writes the event as a google.protobuf.Struct so consumers
// need no generated types.
type ProtoEncoder struct{}

func (e *ProtoEncoder) Encode(ev *domain.PaymentEvent) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"type":      ev.Type,
		"amount":    ev.Amount,
		"currency":  ev.Currency,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"paymentId": ev.PaymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build proto struct: %w", err)
	}
	b, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to proto encode event: %w", err)
	}
	return b, nil
}

func (e *ProtoEncoder) GetType() EncoderType {
	return EncoderType_PROTO
}
