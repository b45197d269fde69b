package domain

// MessageKind names the oneof payload carried by a signaling message.
type MessageKind string

const (
	KindUnknown MessageKind = "unknown"
	KindOffer   MessageKind = "offer"
	KindAnswer  MessageKind = "answer"
	KindBye     MessageKind = "bye"
)

// Offer is an inbound media offer for a new call.
type Offer struct {
	SDP    string
	MSISDN string
}

// Answer is our media answer for an offered call.
type Answer struct {
	SDP string
}

type Bye struct{}

// SignalMessage is one message on the shared duplex signaling stream.
// At most one of Offer, Answer, Bye is set; none set means a payload
// this process does not understand.
type SignalMessage struct {
	CallID CallID
	Offer  *Offer
	Answer *Answer
	Bye    *Bye
}

func (m *SignalMessage) Kind() MessageKind {
	switch {
	case m.Offer != nil:
		return KindOffer
	case m.Answer != nil:
		return KindAnswer
	case m.Bye != nil:
		return KindBye
	default:
		return KindUnknown
	}
}

func NewAnswer(id CallID, sdp string) *SignalMessage {
	return &SignalMessage{CallID: id, Answer: &Answer{SDP: sdp}}
}

func NewBye(id CallID) *SignalMessage {
	return &SignalMessage{CallID: id, Bye: &Bye{}}
}
