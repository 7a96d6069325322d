package rtcp

import "fmt"

// SDESType identifies a source description item.
type SDESType uint8

const (
	SDESEnd      SDESType = 0
	SDESCNAME    SDESType = 1
	SDESName     SDESType = 2
	SDESEmail    SDESType = 3
	SDESPhone    SDESType = 4
	SDESLocation SDESType = 5
	SDESTool     SDESType = 6
	SDESNote     SDESType = 7
	SDESPrivate  SDESType = 8
)

func (t SDESType) String() string {
	switch t {
	case SDESEnd:
		return "END"
	case SDESCNAME:
		return "CNAME"
	case SDESName:
		return "NAME"
	case SDESEmail:
		return "EMAIL"
	case SDESPhone:
		return "PHONE"
	case SDESLocation:
		return "LOC"
	case SDESTool:
		return "TOOL"
	case SDESNote:
		return "NOTE"
	case SDESPrivate:
		return "PRIV"
	default:
		return fmt.Sprintf("SDESType(%d)", uint8(t))
	}
}

// SourceDescriptionItem is a single typed text item.
type SourceDescriptionItem struct {
	Type SDESType
	Text string
}

// SourceDescriptionChunk describes one source.
type SourceDescriptionChunk struct {
	Source uint32
	Items  []SourceDescriptionItem
}

// len returns the chunk size including the terminating null item and the
// padding up to the next 32-bit boundary.
func (c SourceDescriptionChunk) len() int {
	n := 4
	for _, item := range c.Items {
		n += 2 + len(item.Text)
	}
	return pad4(n + 1)
}

// SourceDescription carries one chunk per described source.
type SourceDescription struct {
	Chunks []SourceDescriptionChunk
}

func (*SourceDescription) Type() PacketType { return TypeSourceDescription }
func (*SourceDescription) packet()          {}

func (p *SourceDescription) Len() int {
	n := HeaderLen
	for _, c := range p.Chunks {
		n += c.len()
	}
	return n
}

// CNAME returns the canonical name of source, if present.
func (p *SourceDescription) CNAME(source uint32) (string, bool) {
	for _, c := range p.Chunks {
		if c.Source != source {
			continue
		}
		for _, item := range c.Items {
			if item.Type == SDESCNAME {
				return item.Text, true
			}
		}
	}
	return "", false
}
