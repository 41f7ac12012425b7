package protocol

import (
	"errors"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

var errWireType = errors.New("unexpected wire type")

// wireMessage is implemented by every RPC message. The encoding is the
// standard protobuf wire format, so the server stays byte-compatible with
// speakers running protoc-generated stubs.
type wireMessage interface {
	marshalWire(b []byte) []byte
	unmarshalWire(data []byte) error
}

// Encode helpers. Zero values are omitted, matching proto3 serializers.

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendStringList(b []byte, num protowire.Number, vs []string) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	return b
}

// appendStringMap writes map<string,string> entries in sorted key order so
// the output is deterministic.
func appendStringMap(b []byte, num protowire.Number, m map[string]string) []byte {
	if len(m) == 0 {
		return b
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendStringField(entry, 1, k)
		entry = appendStringField(entry, 2, m[k])
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

// wireDecoder walks one message's fields, accumulating the first error.
// Unknown fields are skipped, so schema additions stay compatible.
type wireDecoder struct {
	data []byte
	err  error
}

func (d *wireDecoder) next() (protowire.Number, protowire.Type, bool) {
	if d.err != nil || len(d.data) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(d.data)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return 0, 0, false
	}
	d.data = d.data[n:]
	return num, typ, true
}

func (d *wireDecoder) fail(n int) {
	if d.err == nil {
		d.err = protowire.ParseError(n)
	}
}

func (d *wireDecoder) badType() {
	if d.err == nil {
		d.err = errWireType
	}
}

func (d *wireDecoder) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, d.data)
	if n < 0 {
		d.fail(n)
		return
	}
	d.data = d.data[n:]
}

func (d *wireDecoder) stringValue(typ protowire.Type) string {
	if typ != protowire.BytesType {
		d.badType()
		return ""
	}
	v, n := protowire.ConsumeString(d.data)
	if n < 0 {
		d.fail(n)
		return ""
	}
	d.data = d.data[n:]
	return v
}

func (d *wireDecoder) bytesValue(typ protowire.Type) []byte {
	if typ != protowire.BytesType {
		d.badType()
		return nil
	}
	v, n := protowire.ConsumeBytes(d.data)
	if n < 0 {
		d.fail(n)
		return nil
	}
	d.data = d.data[n:]
	return v
}

func (d *wireDecoder) varintValue(typ protowire.Type) uint64 {
	if typ != protowire.VarintType {
		d.badType()
		return 0
	}
	v, n := protowire.ConsumeVarint(d.data)
	if n < 0 {
		d.fail(n)
		return 0
	}
	d.data = d.data[n:]
	return v
}

func (d *wireDecoder) boolValue(typ protowire.Type) bool {
	return protowire.DecodeBool(d.varintValue(typ))
}

func (d *wireDecoder) int32Value(typ protowire.Type) int32 {
	return int32(d.varintValue(typ))
}

func (d *wireDecoder) int64Value(typ protowire.Type) int64 {
	return int64(d.varintValue(typ))
}

func (d *wireDecoder) mapEntry(typ protowire.Type) (string, string) {
	entry := d.bytesValue(typ)
	if d.err != nil {
		return "", ""
	}
	var k, v string
	e := &wireDecoder{data: entry}
	for {
		num, typ, ok := e.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			k = e.stringValue(typ)
		case 2:
			v = e.stringValue(typ)
		default:
			e.skip(num, typ)
		}
	}
	if e.err != nil && d.err == nil {
		d.err = e.err
	}
	return k, v
}

func setMapEntry(m *map[string]string, k, v string) {
	if *m == nil {
		*m = make(map[string]string)
	}
	(*m)[k] = v
}

func (m *SpeakerRegistration) marshalWire(b []byte) []byte {
	b = appendStringField(b, 1, m.SpeakerID)
	b = appendStringField(b, 2, m.SpeakerName)
	b = appendStringField(b, 3, m.SpeakerType)
	b = appendStringField(b, 4, m.FirmwareVersion)
	b = appendStringList(b, 5, m.Capabilities)
	b = appendStringMap(b, 6, m.Settings)
	return b
}

func (m *SpeakerRegistration) unmarshalWire(data []byte) error {
	*m = SpeakerRegistration{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.SpeakerID = d.stringValue(typ)
		case 2:
			m.SpeakerName = d.stringValue(typ)
		case 3:
			m.SpeakerType = d.stringValue(typ)
		case 4:
			m.FirmwareVersion = d.stringValue(typ)
		case 5:
			m.Capabilities = append(m.Capabilities, d.stringValue(typ))
		case 6:
			k, v := d.mapEntry(typ)
			if d.err == nil {
				setMapEntry(&m.Settings, k, v)
			}
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *RegistrationResponse) marshalWire(b []byte) []byte {
	b = appendBoolField(b, 1, m.Success)
	b = appendStringField(b, 2, m.Message)
	b = appendStringField(b, 3, m.ServerVersion)
	b = appendStringField(b, 4, m.SessionID)
	b = appendStringMap(b, 5, m.ServerSettings)
	return b
}

func (m *RegistrationResponse) unmarshalWire(data []byte) error {
	*m = RegistrationResponse{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Success = d.boolValue(typ)
		case 2:
			m.Message = d.stringValue(typ)
		case 3:
			m.ServerVersion = d.stringValue(typ)
		case 4:
			m.SessionID = d.stringValue(typ)
		case 5:
			k, v := d.mapEntry(typ)
			if d.err == nil {
				setMapEntry(&m.ServerSettings, k, v)
			}
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *StateStreamRequest) marshalWire(b []byte) []byte {
	b = appendStringField(b, 1, m.SpeakerID)
	b = appendStringList(b, 2, m.EntityFilters)
	b = appendBoolField(b, 3, m.SendInitialState)
	return b
}

func (m *StateStreamRequest) unmarshalWire(data []byte) error {
	*m = StateStreamRequest{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.SpeakerID = d.stringValue(typ)
		case 2:
			m.EntityFilters = append(m.EntityFilters, d.stringValue(typ))
		case 3:
			m.SendInitialState = d.boolValue(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *DeviceState) marshalWire(b []byte) []byte {
	b = appendStringField(b, 1, m.EntityID)
	b = appendStringField(b, 2, m.State)
	b = appendStringMap(b, 3, m.Attributes)
	b = appendStringField(b, 4, m.FriendlyName)
	b = appendStringField(b, 5, m.Domain)
	b = appendInt64Field(b, 6, m.LastChanged)
	b = appendInt64Field(b, 7, m.LastUpdated)
	return b
}

func (m *DeviceState) unmarshalWire(data []byte) error {
	*m = DeviceState{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.EntityID = d.stringValue(typ)
		case 2:
			m.State = d.stringValue(typ)
		case 3:
			k, v := d.mapEntry(typ)
			if d.err == nil {
				setMapEntry(&m.Attributes, k, v)
			}
		case 4:
			m.FriendlyName = d.stringValue(typ)
		case 5:
			m.Domain = d.stringValue(typ)
		case 6:
			m.LastChanged = d.int64Value(typ)
		case 7:
			m.LastUpdated = d.int64Value(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *SpeakTextRequest) marshalWire(b []byte) []byte {
	b = appendStringField(b, 1, m.SpeakerID)
	b = appendStringField(b, 2, m.Text)
	b = appendStringField(b, 3, m.Language)
	b = appendStringField(b, 4, m.Voice)
	b = appendInt32Field(b, 5, m.Volume)
	b = appendBoolField(b, 6, m.Priority)
	b = appendStringField(b, 7, m.MessageID)
	b = appendInt64Field(b, 8, m.Timestamp)
	return b
}

func (m *SpeakTextRequest) unmarshalWire(data []byte) error {
	*m = SpeakTextRequest{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.SpeakerID = d.stringValue(typ)
		case 2:
			m.Text = d.stringValue(typ)
		case 3:
			m.Language = d.stringValue(typ)
		case 4:
			m.Voice = d.stringValue(typ)
		case 5:
			m.Volume = d.int32Value(typ)
		case 6:
			m.Priority = d.boolValue(typ)
		case 7:
			m.MessageID = d.stringValue(typ)
		case 8:
			m.Timestamp = d.int64Value(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *SpeakTextResponse) marshalWire(b []byte) []byte {
	b = appendStringField(b, 1, m.SpeakerID)
	b = appendStringField(b, 2, m.MessageID)
	b = appendBoolField(b, 3, m.Success)
	b = appendStringField(b, 4, m.Message)
	b = appendInt64Field(b, 5, m.Timestamp)
	return b
}

func (m *SpeakTextResponse) unmarshalWire(data []byte) error {
	*m = SpeakTextResponse{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.SpeakerID = d.stringValue(typ)
		case 2:
			m.MessageID = d.stringValue(typ)
		case 3:
			m.Success = d.boolValue(typ)
		case 4:
			m.Message = d.stringValue(typ)
		case 5:
			m.Timestamp = d.int64Value(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *TTSAck) marshalWire(b []byte) []byte {
	b = appendBoolField(b, 1, m.Success)
	b = appendStringField(b, 2, m.MessageID)
	b = appendInt64Field(b, 3, m.Timestamp)
	return b
}

func (m *TTSAck) unmarshalWire(data []byte) error {
	*m = TTSAck{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Success = d.boolValue(typ)
		case 2:
			m.MessageID = d.stringValue(typ)
		case 3:
			m.Timestamp = d.int64Value(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *TTSRequest) marshalWire(b []byte) []byte {
	b = appendStringField(b, 1, m.SpeakerID)
	b = appendStringField(b, 2, m.Text)
	b = appendStringField(b, 3, m.Language)
	b = appendStringField(b, 4, m.Voice)
	b = appendInt32Field(b, 5, m.Volume)
	b = appendBoolField(b, 6, m.Priority)
	return b
}

func (m *TTSRequest) unmarshalWire(data []byte) error {
	*m = TTSRequest{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.SpeakerID = d.stringValue(typ)
		case 2:
			m.Text = d.stringValue(typ)
		case 3:
			m.Language = d.stringValue(typ)
		case 4:
			m.Voice = d.stringValue(typ)
		case 5:
			m.Volume = d.int32Value(typ)
		case 6:
			m.Priority = d.boolValue(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *AlphaCommand) marshalWire(b []byte) []byte {
	b = appendStringField(b, 1, m.SpeakerID)
	b = appendStringField(b, 2, m.CommandType)
	b = appendStringField(b, 3, m.EntityID)
	b = appendStringMap(b, 4, m.Parameters)
	b = appendStringField(b, 5, m.VoiceCommand)
	b = appendInt64Field(b, 6, m.Timestamp)
	return b
}

func (m *AlphaCommand) unmarshalWire(data []byte) error {
	*m = AlphaCommand{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.SpeakerID = d.stringValue(typ)
		case 2:
			m.CommandType = d.stringValue(typ)
		case 3:
			m.EntityID = d.stringValue(typ)
		case 4:
			k, v := d.mapEntry(typ)
			if d.err == nil {
				setMapEntry(&m.Parameters, k, v)
			}
		case 5:
			m.VoiceCommand = d.stringValue(typ)
		case 6:
			m.Timestamp = d.int64Value(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *CommandResponse) marshalWire(b []byte) []byte {
	b = appendBoolField(b, 1, m.Success)
	b = appendStringField(b, 2, m.EventID)
	b = appendStringField(b, 3, m.ResultState)
	b = appendStringField(b, 4, m.Message)
	return b
}

func (m *CommandResponse) unmarshalWire(data []byte) error {
	*m = CommandResponse{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Success = d.boolValue(typ)
		case 2:
			m.EventID = d.stringValue(typ)
		case 3:
			m.ResultState = d.stringValue(typ)
		case 4:
			m.Message = d.stringValue(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *DeviceListRequest) marshalWire(b []byte) []byte {
	b = appendStringField(b, 1, m.SpeakerID)
	b = appendStringList(b, 2, m.Domains)
	return b
}

func (m *DeviceListRequest) unmarshalWire(data []byte) error {
	*m = DeviceListRequest{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.SpeakerID = d.stringValue(typ)
		case 2:
			m.Domains = append(m.Domains, d.stringValue(typ))
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *DeviceInfo) marshalWire(b []byte) []byte {
	b = appendStringField(b, 1, m.EntityID)
	b = appendStringField(b, 2, m.FriendlyName)
	b = appendStringField(b, 3, m.Domain)
	b = appendStringField(b, 4, m.CurrentState)
	b = appendStringMap(b, 5, m.Attributes)
	b = appendStringList(b, 6, m.SupportedCommands)
	return b
}

func (m *DeviceInfo) unmarshalWire(data []byte) error {
	*m = DeviceInfo{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.EntityID = d.stringValue(typ)
		case 2:
			m.FriendlyName = d.stringValue(typ)
		case 3:
			m.Domain = d.stringValue(typ)
		case 4:
			m.CurrentState = d.stringValue(typ)
		case 5:
			k, v := d.mapEntry(typ)
			if d.err == nil {
				setMapEntry(&m.Attributes, k, v)
			}
		case 6:
			m.SupportedCommands = append(m.SupportedCommands, d.stringValue(typ))
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *DeviceList) marshalWire(b []byte) []byte {
	for i := range m.Devices {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Devices[i].marshalWire(nil))
	}
	b = appendInt32Field(b, 2, m.TotalCount)
	return b
}

func (m *DeviceList) unmarshalWire(data []byte) error {
	*m = DeviceList{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			raw := d.bytesValue(typ)
			if d.err != nil {
				break
			}
			var di DeviceInfo
			if err := di.unmarshalWire(raw); err != nil {
				d.err = err
				break
			}
			m.Devices = append(m.Devices, di)
		case 2:
			m.TotalCount = d.int32Value(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *PingRequest) marshalWire(b []byte) []byte {
	return appendStringField(b, 1, m.SpeakerID)
}

func (m *PingRequest) unmarshalWire(data []byte) error {
	*m = PingRequest{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.SpeakerID = d.stringValue(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *PingResponse) marshalWire(b []byte) []byte {
	b = appendBoolField(b, 1, m.Alive)
	b = appendInt64Field(b, 2, m.ServerTime)
	b = appendStringField(b, 3, m.StatusMessage)
	return b
}

func (m *PingResponse) unmarshalWire(data []byte) error {
	*m = PingResponse{}
	d := &wireDecoder{data: data}
	for {
		num, typ, ok := d.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			m.Alive = d.boolValue(typ)
		case 2:
			m.ServerTime = d.int64Value(typ)
		case 3:
			m.StatusMessage = d.stringValue(typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}
