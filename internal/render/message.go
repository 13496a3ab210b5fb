package render

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/dshills/debugmate/internal/viewsync"
)

// MessageType tags an envelope body.
type MessageType string

// Message types.
const (
	TypeShowMatrix     MessageType = "show_matrix"
	TypeShowSequence   MessageType = "show_sequence"
	TypeShowPointCloud MessageType = "show_pointcloud"
	TypeViewState      MessageType = "view_state"
	TypeQueryView      MessageType = "query_view"
	TypeReveal         MessageType = "reveal"
	TypeClose          MessageType = "close"
	TypeStatus         MessageType = "status"
)

// Message is any message a host accepts.
type Message interface {
	Type() MessageType
}

// ShowMatrix displays a matrix or image. Depth uses the OpenCV short names
// (8U, 32F, ...).
type ShowMatrix struct {
	PanelID  string  `cbor:"panel_id"`
	Title    string  `cbor:"title"`
	Rows     int     `cbor:"rows"`
	Cols     int     `cbor:"cols"`
	Channels int     `cbor:"channels"`
	Depth    string  `cbor:"depth"`
	Small    bool    `cbor:"small,omitempty"`
	Payload  Payload `cbor:"payload"`
}

// ShowSequence plots a 1-D numeric sequence.
type ShowSequence struct {
	PanelID string  `cbor:"panel_id"`
	Title   string  `cbor:"title"`
	Count   int     `cbor:"count"`
	Depth   string  `cbor:"depth"`
	Min     float64 `cbor:"min"`
	Max     float64 `cbor:"max"`
	Payload Payload `cbor:"payload"`
}

// ShowPointCloud displays 3-D points stored as packed x, y, z triples of
// float32, or float64 when Wide is set. Min and Max bound the finite points
// and are zero when there are none.
type ShowPointCloud struct {
	PanelID string     `cbor:"panel_id"`
	Title   string     `cbor:"title"`
	Count   int        `cbor:"count"`
	Wide    bool       `cbor:"wide"`
	Min     [3]float64 `cbor:"min"`
	Max     [3]float64 `cbor:"max"`
	Payload Payload    `cbor:"payload"`
}

// ViewStateUpdate applies a synchronized view.
type ViewStateUpdate struct {
	PanelID string             `cbor:"panel_id"`
	State   viewsync.ViewState `cbor:"state"`
}

// QueryView asks a panel to report its current view, as if the user had
// just finished moving it.
type QueryView struct {
	PanelID string `cbor:"panel_id"`
}

// Reveal brings an existing panel to front.
type Reveal struct {
	PanelID string `cbor:"panel_id"`
}

// Close tears a panel down.
type Close struct {
	PanelID string `cbor:"panel_id"`
}

// Status is a user-visible outcome line for a variable.
type Status struct {
	PanelID  string `cbor:"panel_id,omitempty"`
	Variable string `cbor:"variable"`
	Level    string `cbor:"level"`
	Reason   string `cbor:"reason"`
	Evidence string `cbor:"evidence,omitempty"`
	Message  string `cbor:"message"`
}

func (ShowMatrix) Type() MessageType      { return TypeShowMatrix }
func (ShowSequence) Type() MessageType    { return TypeShowSequence }
func (ShowPointCloud) Type() MessageType  { return TypeShowPointCloud }
func (ViewStateUpdate) Type() MessageType { return TypeViewState }
func (QueryView) Type() MessageType       { return TypeQueryView }
func (Reveal) Type() MessageType          { return TypeReveal }
func (Close) Type() MessageType           { return TypeClose }
func (Status) Type() MessageType          { return TypeStatus }

// Envelope carries one encoded message.
type Envelope struct {
	Type MessageType     `cbor:"type"`
	Body cbor.RawMessage `cbor:"body"`
}

// Wrap encodes m into an envelope.
func Wrap(m Message) (Envelope, error) {
	body, err := Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return Envelope{Type: m.Type(), Body: body}, nil
}

// Open decodes the message inside e.
func (e Envelope) Open() (Message, error) {
	var m Message
	var err error
	switch e.Type {
	case TypeShowMatrix:
		m, err = open[ShowMatrix](e.Body)
	case TypeShowSequence:
		m, err = open[ShowSequence](e.Body)
	case TypeShowPointCloud:
		m, err = open[ShowPointCloud](e.Body)
	case TypeViewState:
		m, err = open[ViewStateUpdate](e.Body)
	case TypeQueryView:
		m, err = open[QueryView](e.Body)
	case TypeReveal:
		m, err = open[Reveal](e.Body)
	case TypeClose:
		m, err = open[Close](e.Body)
	case TypeStatus:
		m, err = open[Status](e.Body)
	default:
		return nil, fmt.Errorf("unknown message type %q", e.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return m, nil
}

func open[T Message](body []byte) (Message, error) {
	var v T
	if err := Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}
