package live

import (
	"context"

	"github.com/recera/wirepage/pkg/runtime"
)

// Message kinds
const (
	// KindHello is sent by the server once a connection is attached
	KindHello = "hello"
	// KindEvent invokes a page handler
	KindEvent = "event"
	// KindUpdate carries an Update, either the reply to an event or a push
	KindUpdate = "update"
	// KindError reports a failed event
	KindError = "error"
	// KindReload tells the client to reload the page
	KindReload = "reload"
	KindPing   = "ping"
	KindPong   = "pong"
)

// Message is the envelope of every frame in both directions. Seq pairs a
// reply with its event; pushed updates carry no Seq.
type Message struct {
	Kind    string                 `json:"kind" msgpack:"kind"`
	Seq     uint64                 `json:"seq,omitempty" msgpack:"seq,omitempty"`
	Session string                 `json:"session,omitempty" msgpack:"session,omitempty"`
	Handler string                 `json:"handler,omitempty" msgpack:"handler,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Update  *runtime.Update        `json:"update,omitempty" msgpack:"update,omitempty"`
	Error   string                 `json:"error,omitempty" msgpack:"error,omitempty"`
	Path    string                 `json:"path,omitempty" msgpack:"path,omitempty"`
}

// Page is the instance a session drives. *runtime.Page implements it.
type Page interface {
	HandleEvent(ctx context.Context, name string, payload map[string]interface{}) (runtime.Update, error)
	PushUpdate(ctx context.Context) (*runtime.Update, error)
	Close()
}
