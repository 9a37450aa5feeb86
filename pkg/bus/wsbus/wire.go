package wsbus

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/mediabus/pkg/bus"
	"github.com/marmos91/mediabus/pkg/property"
)

// wireVersion is bumped whenever the frame layout changes.
const wireVersion = 1

// wireValue is the XDR form of a property value. Only the field selected by
// Kind is meaningful.
type wireValue struct {
	Kind uint32
	Str  string
	Int  int64
	UInt uint64
	Bool bool
	List []string
}

type wireProp struct {
	Name  string
	Value wireValue
}

type wireTable struct {
	Props []wireProp
}

// wireFrame is the XDR form of a bus frame. Message and signal fields share
// Sender/Path/Interface/Member/Args; reply fields are Values, Tables and
// the error triple.
type wireFrame struct {
	Version     uint32
	Kind        uint32
	Serial      uint32
	ReplySerial uint32
	Destination string

	Sender    string
	Path      string
	Interface string
	Member    string
	Args      []wireValue

	Values []wireValue
	Tables []wireTable

	HasError     bool
	ErrorName    string
	ErrorMessage string
}

func toWireValue(v property.Value) wireValue {
	w := wireValue{Kind: uint32(v.Kind())}
	switch v.Kind() {
	case property.KindString:
		w.Str, _ = v.AsString()
	case property.KindInt:
		w.Int, _ = v.AsInt()
	case property.KindUInt:
		w.UInt, _ = v.AsUInt()
	case property.KindBool:
		w.Bool, _ = v.AsBool()
	case property.KindStringList:
		w.List, _ = v.AsStringList()
	}
	return w
}

func fromWireValue(w wireValue) (property.Value, error) {
	switch property.Kind(w.Kind) {
	case property.KindString:
		return property.String(w.Str), nil
	case property.KindInt:
		return property.Int(w.Int), nil
	case property.KindUInt:
		return property.UInt(w.UInt), nil
	case property.KindBool:
		return property.Bool(w.Bool), nil
	case property.KindStringList:
		return property.StringList(w.List), nil
	default:
		return property.Value{}, fmt.Errorf("unknown value kind %d", w.Kind)
	}
}

func toWireValues(vs []property.Value) []wireValue {
	out := make([]wireValue, len(vs))
	for i, v := range vs {
		out[i] = toWireValue(v)
	}
	return out
}

func fromWireValues(ws []wireValue) ([]property.Value, error) {
	if len(ws) == 0 {
		return nil, nil
	}
	out := make([]property.Value, len(ws))
	for i, w := range ws {
		v, err := fromWireValue(w)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func toWireTable(t property.Table) wireTable {
	names := t.Names()
	props := make([]wireProp, len(names))
	for i, name := range names {
		props[i] = wireProp{Name: string(name), Value: toWireValue(t[name])}
	}
	return wireTable{Props: props}
}

func fromWireTable(w wireTable) (property.Table, error) {
	t := make(property.Table, len(w.Props))
	for _, p := range w.Props {
		v, err := fromWireValue(p.Value)
		if err != nil {
			return nil, err
		}
		if err := t.Set(property.Name(p.Name), v); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// encodeFrame serializes f for a binary websocket message.
func encodeFrame(f *bus.Frame) ([]byte, error) {
	w := wireFrame{
		Version:     wireVersion,
		Kind:        uint32(f.Kind),
		Serial:      f.Serial,
		ReplySerial: f.ReplySerial,
		Destination: f.Destination,
	}

	switch {
	case f.Message != nil:
		m := f.Message
		w.Sender, w.Path, w.Interface, w.Member = m.Sender, m.Path, m.Interface, m.Member
		w.Args = toWireValues(m.Args)
	case f.Signal != nil:
		s := f.Signal
		w.Sender, w.Path, w.Interface, w.Member = s.Sender, s.Path, s.Interface, s.Member
		w.Args = toWireValues(s.Args)
	case f.Reply != nil:
		r := f.Reply
		w.Values = toWireValues(r.Values)
		w.Tables = make([]wireTable, len(r.Tables))
		for i, t := range r.Tables {
			w.Tables[i] = toWireTable(t)
		}
		if r.Err != nil {
			w.HasError = true
			w.ErrorName = r.Err.Name
			w.ErrorMessage = r.Err.Message
		}
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &w); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Kind, err)
	}
	return buf.Bytes(), nil
}

// decodeFrame parses a binary websocket message.
func decodeFrame(data []byte) (*bus.Frame, error) {
	var w wireFrame
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &w); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if w.Version != wireVersion {
		return nil, fmt.Errorf("unsupported frame version %d", w.Version)
	}

	f := &bus.Frame{
		Kind:        bus.FrameKind(w.Kind),
		Serial:      w.Serial,
		ReplySerial: w.ReplySerial,
		Destination: w.Destination,
	}

	switch f.Kind {
	case bus.FrameCall:
		args, err := fromWireValues(w.Args)
		if err != nil {
			return nil, err
		}
		f.Message = &bus.Message{
			Sender:      w.Sender,
			Destination: w.Destination,
			Path:        w.Path,
			Interface:   w.Interface,
			Member:      w.Member,
			Args:        args,
		}
	case bus.FrameSignal:
		args, err := fromWireValues(w.Args)
		if err != nil {
			return nil, err
		}
		f.Signal = &bus.Signal{
			Sender:    w.Sender,
			Path:      w.Path,
			Interface: w.Interface,
			Member:    w.Member,
			Args:      args,
		}
	case bus.FrameReply:
		values, err := fromWireValues(w.Values)
		if err != nil {
			return nil, err
		}
		r := &bus.Reply{Values: values}
		for _, wt := range w.Tables {
			t, err := fromWireTable(wt)
			if err != nil {
				return nil, err
			}
			r.Tables = append(r.Tables, t)
		}
		if w.HasError {
			r.Err = bus.NewError(w.ErrorName, w.ErrorMessage)
		}
		f.Reply = r
	case bus.FrameHello:
	default:
		return nil, fmt.Errorf("unknown frame kind %d", w.Kind)
	}
	return f, nil
}
