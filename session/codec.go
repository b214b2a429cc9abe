package session

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ava-labs/hypersdk/codec"

	"github.com/todun/golem/resource"
)

// MaxMessageSize bounds a single wire message.
const MaxMessageSize = 1 << 20

type packer = codec.Packer

var ErrUnknownMessageType = errors.New("unknown message type")

// Marshal renders a message into its wire form: type byte, encrypted flag,
// then the message body.
func Marshal(msg Message) ([]byte, error) {
	p := codec.NewWriter(128, MaxMessageSize)
	p.PackByte(byte(msg.Type()))
	p.PackBool(msg.Encrypted())
	msg.marshalBody(p)
	if err := p.Err(); err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.Type(), err)
	}
	return p.Bytes(), nil
}

// Unmarshal parses a wire message. Unknown type bytes are an error; the
// session layer turns that into a BadProtocol disconnect. Repeated-element
// counts come from the wire, so the decode loops stop at the first packer
// error instead of trusting the claimed count.
func Unmarshal(data []byte) (Message, error) {
	p := codec.NewReader(data, MaxMessageSize)
	typeByte := p.UnpackByte()
	encrypted := p.UnpackBool()

	var msg Message
	switch Type(typeByte) {
	case TypeDisconnect:
		msg = &Disconnect{}
	case TypeHello:
		msg = &Hello{}
	case TypeRandVal:
		msg = &RandVal{}
	case TypeWantResource:
		msg = &WantResource{}
	case TypeDeltaParts:
		msg = &DeltaParts{}
	case TypeTaskToCompute:
		msg = &TaskToCompute{}
	case TypeReportComputedTask:
		msg = &ReportComputedTask{}
	case TypeSubtaskResult:
		msg = &SubtaskResult{}
	case TypeSubtaskResultRejected:
		msg = &SubtaskResultRejected{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, typeByte)
	}

	msg.unmarshalBody(p)
	if err := p.Err(); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", msg.Type(), err)
	}
	msg.SetEncrypted(encrypted)
	return msg, nil
}

func (m *Disconnect) marshalBody(p *packer) {
	p.PackByte(byte(m.Reason))
}

func (m *Disconnect) unmarshalBody(p *packer) {
	m.Reason = DisconnectReason(p.UnpackByte())
}

func (m *Hello) marshalBody(p *packer) {
	p.PackString(m.NodeName)
	p.PackString(m.NodeID)
	p.PackString(m.KeyID)
	p.PackInt(int(m.Port))
	p.PackUint64(m.RandVal)
}

func (m *Hello) unmarshalBody(p *packer) {
	m.NodeName = p.UnpackString(false)
	m.NodeID = p.UnpackString(false)
	m.KeyID = p.UnpackString(false)
	m.Port = uint16(p.UnpackInt(false))
	m.RandVal = p.UnpackUint64(false)
}

func (m *RandVal) marshalBody(p *packer) {
	p.PackUint64(m.RandVal)
}

func (m *RandVal) unmarshalBody(p *packer) {
	m.RandVal = p.UnpackUint64(false)
}

func (m *WantResource) marshalBody(p *packer) {
	p.PackString(m.TaskID)
	p.PackByte(m.Kind)
}

func (m *WantResource) unmarshalBody(p *packer) {
	m.TaskID = p.UnpackString(true)
	m.Kind = p.UnpackByte()
}

func (m *DeltaParts) marshalBody(p *packer) {
	p.PackString(m.TaskID)
	p.PackInt(len(m.Parts))
	for _, part := range m.Parts {
		p.PackString(part.Path)
		p.PackString(part.Checksum)
	}
}

func (m *DeltaParts) unmarshalBody(p *packer) {
	m.TaskID = p.UnpackString(true)
	count := p.UnpackInt(false)
	for i := 0; i < count && p.Err() == nil; i++ {
		path := p.UnpackString(false)
		checksum := p.UnpackString(false)
		if p.Err() != nil {
			return
		}
		m.Parts = append(m.Parts, resource.FileEntry{Path: path, Checksum: checksum})
	}
}

func (m *TaskToCompute) marshalBody(p *packer) {
	a := &m.Assignment
	p.PackString(a.TaskID)
	p.PackString(a.SubtaskID)
	p.PackString(a.ShortDescription)
	p.PackString(a.SrcCode)
	p.PackString(a.WorkingDirectory)
	p.PackString(a.EnvironmentID)
	p.PackUint64(math.Float64bits(a.Performance))
	p.PackInt64(a.Deadline.UnixNano())

	keys := make([]string, 0, len(a.ExtraData))
	for k := range a.ExtraData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p.PackInt(len(keys))
	for _, k := range keys {
		p.PackString(k)
		p.PackString(a.ExtraData[k])
	}

	p.PackInt(len(a.DockerImages))
	for _, img := range a.DockerImages {
		p.PackString(img)
	}
}

func (m *TaskToCompute) unmarshalBody(p *packer) {
	a := &m.Assignment
	a.TaskID = p.UnpackString(true)
	a.SubtaskID = p.UnpackString(true)
	a.ShortDescription = p.UnpackString(false)
	a.SrcCode = p.UnpackString(false)
	a.WorkingDirectory = p.UnpackString(false)
	a.EnvironmentID = p.UnpackString(false)
	a.Performance = math.Float64frombits(p.UnpackUint64(false))
	a.Deadline = time.Unix(0, p.UnpackInt64(false))

	extraCount := p.UnpackInt(false)
	for i := 0; i < extraCount && p.Err() == nil; i++ {
		k := p.UnpackString(false)
		v := p.UnpackString(false)
		if p.Err() != nil {
			return
		}
		if a.ExtraData == nil {
			a.ExtraData = make(map[string]string)
		}
		a.ExtraData[k] = v
	}

	imageCount := p.UnpackInt(false)
	for i := 0; i < imageCount && p.Err() == nil; i++ {
		img := p.UnpackString(false)
		if p.Err() != nil {
			return
		}
		a.DockerImages = append(a.DockerImages, img)
	}
}

func (m *ReportComputedTask) marshalBody(p *packer) {
	p.PackString(m.SubtaskID)
	p.PackByte(m.ResultKind)
}

func (m *ReportComputedTask) unmarshalBody(p *packer) {
	m.SubtaskID = p.UnpackString(true)
	m.ResultKind = p.UnpackByte()
}

func (m *SubtaskResult) marshalBody(p *packer) {
	p.PackString(m.SubtaskID)
	p.PackByte(m.ResultKind)
	p.PackInt(len(m.Files))
	for _, f := range m.Files {
		p.PackString(f)
	}
	p.PackInt(len(m.Blobs))
	for _, b := range m.Blobs {
		p.PackBytes(b)
	}
}

func (m *SubtaskResult) unmarshalBody(p *packer) {
	m.SubtaskID = p.UnpackString(true)
	m.ResultKind = p.UnpackByte()
	fileCount := p.UnpackInt(false)
	for i := 0; i < fileCount && p.Err() == nil; i++ {
		f := p.UnpackString(false)
		if p.Err() != nil {
			return
		}
		m.Files = append(m.Files, f)
	}
	blobCount := p.UnpackInt(false)
	for i := 0; i < blobCount && p.Err() == nil; i++ {
		var b []byte
		p.UnpackBytes(MaxMessageSize, false, &b)
		if p.Err() != nil {
			return
		}
		m.Blobs = append(m.Blobs, b)
	}
}

func (m *SubtaskResultRejected) marshalBody(p *packer) {
	p.PackString(m.SubtaskID)
}

func (m *SubtaskResultRejected) unmarshalBody(p *packer) {
	m.SubtaskID = p.UnpackString(true)
}
