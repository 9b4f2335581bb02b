package recorder

import (
	"fmt"

	"distbank/message"
)

// Message is recorded when a process either sends or receives a frame.
// Sent is true if the frame was sent by the process and false if it was received
type Message struct {
	From, To int
	Sent     bool
	Msg      message.Message
}

func (m Message) Target() int {
	if m.Sent {
		return m.From
	}
	return m.To
}

func (m Message) String() string {
	var t string
	if m.Sent {
		t = "Sent"
	} else {
		t = "Received"
	}
	return fmt.Sprintf("[%v From: %v To: %v Msg: %v]", t, m.From, m.To, m.Msg)
}
