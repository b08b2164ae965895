package gomoos

import (
	"github.com/RoanBrand/gomoos/internal/model"
)

// Message is one timestamped variable update or control message.
type Message = model.Message

// Message types
const (
	Notify        = model.Notify
	Register      = model.Register
	Unregister    = model.Unregister
	NotSet        = model.NotSet
	Command       = model.Command
	Anonymous     = model.Anonymous
	Null          = model.Null
	Data          = model.Data
	Poison        = model.Poison
	Welcome       = model.Welcome
	ServerRequest = model.ServerRequest
)

// Data types
const (
	Double = model.Double
	String = model.String
	Binary = model.Binary
)

const ServerRequestID = model.ServerRequestID

// Constructors. A time of -1 means now.
var (
	NewDoubleMessage = model.NewDouble
	NewStringMessage = model.NewString
	NewBinaryMessage = model.NewBinary
)

// Now is the current time in protocol seconds.
func Now() float64 {
	return model.Now()
}

// FindNewest returns the first message for name in mail, which is the newest
// when mail comes from GetNewMessages. Nil if there is none.
func FindNewest(mail []*Message, name string) *Message {
	for _, m := range mail {
		if m.Var == name {
			return m
		}
	}
	return nil
}

// PeekMail looks for name in mail. With youngest set the message with the latest time
// stamp is returned, otherwise the first found. Null messages are skipped.
func PeekMail(mail []*Message, name string, youngest bool) *Message {
	var found *Message
	for _, m := range mail {
		if m.MsgType == Null || m.Var != name {
			continue
		}
		if !youngest {
			return m
		}
		if found == nil || m.Time > found.Time {
			found = m
		}
	}
	return found
}
