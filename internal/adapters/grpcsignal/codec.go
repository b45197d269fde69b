package grpcsignal

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicebot/internal/domain"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of wgtwo.webterminal.v0.WebTerminalMessage and its payloads.
const (
	fieldOffer  protowire.Number = 1
	fieldAnswer protowire.Number = 2
	fieldBye    protowire.Number = 4
	fieldCallID protowire.Number = 6

	fieldSDP    protowire.Number = 1
	fieldMSISDN protowire.Number = 2
	fieldE164   protowire.Number = 1
)

var ErrUnsupportedType = errors.New("codec: unsupported message type")

// Codec encodes domain.SignalMessage as the WebTerminalMessage protobuf.
// It registers under the "proto" name so the server sees a normal
// application/grpc+proto stream.
type Codec struct{}

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*domain.SignalMessage)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return marshalMessage(m), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*domain.SignalMessage)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	*m = domain.SignalMessage{}
	return unmarshalMessage(data, m)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendSub(b []byte, num protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func marshalMessage(m *domain.SignalMessage) []byte {
	var b []byte
	switch {
	case m.Offer != nil:
		var o []byte
		o = appendString(o, fieldSDP, m.Offer.SDP)
		if m.Offer.MSISDN != "" {
			o = appendSub(o, fieldMSISDN, appendString(nil, fieldE164, m.Offer.MSISDN))
		}
		b = appendSub(b, fieldOffer, o)
	case m.Answer != nil:
		b = appendSub(b, fieldAnswer, appendString(nil, fieldSDP, m.Answer.SDP))
	case m.Bye != nil:
		b = appendSub(b, fieldBye, nil)
	}
	return appendString(b, fieldCallID, string(m.CallID))
}

// walk calls fn for every length-delimited field and skips the rest.
func walk(data []byte, fn func(num protowire.Number, val []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}
		val, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		if err := fn(num, val); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalMessage(data []byte, m *domain.SignalMessage) error {
	return walk(data, func(num protowire.Number, val []byte) error {
		switch num {
		case fieldCallID:
			m.CallID = domain.CallID(val)
		case fieldOffer:
			o := &domain.Offer{}
			err := walk(val, func(num protowire.Number, val []byte) error {
				switch num {
				case fieldSDP:
					o.SDP = string(val)
				case fieldMSISDN:
					return walk(val, func(num protowire.Number, val []byte) error {
						if num == fieldE164 {
							o.MSISDN = string(val)
						}
						return nil
					})
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("offer: %w", err)
			}
			m.Offer, m.Answer, m.Bye = o, nil, nil
		case fieldAnswer:
			a := &domain.Answer{}
			err := walk(val, func(num protowire.Number, val []byte) error {
				if num == fieldSDP {
					a.SDP = string(val)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("answer: %w", err)
			}
			m.Offer, m.Answer, m.Bye = nil, a, nil
		case fieldBye:
			m.Offer, m.Answer, m.Bye = nil, nil, &domain.Bye{}
		}
		return nil
	})
}
