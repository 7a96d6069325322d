package rtcp

import (
	"encoding/binary"
	"fmt"
)

// DecodeHeader parses the common header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes < %d", ErrTruncated, len(b), HeaderLen)
	}
	if v := b[0] >> 6; v != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return Header{
		Padding: b[0]&0x20 != 0,
		Count:   b[0] & 0x1f,
		Type:    PacketType(b[1]),
		Length:  binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// Decode parses the first control packet in b and returns it with the number of
// bytes it occupied, (Length+1)*4.
func Decode(b []byte) (Packet, int, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, 0, err
	}
	size := (int(h.Length) + 1) * 4
	if size > len(b) {
		return nil, 0, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncated, size, len(b))
	}

	body := b[HeaderLen:size]
	if h.Padding {
		if len(body) == 0 {
			return nil, 0, fmt.Errorf("%w: padding flag without padding", ErrMalformed)
		}
		n := int(body[len(body)-1])
		if n == 0 || n > len(body) {
			return nil, 0, fmt.Errorf("%w: padding length %d", ErrMalformed, n)
		}
		body = body[:len(body)-n]
	}

	var p Packet
	switch h.Type {
	case TypeSenderReport:
		p, err = decodeSenderReport(h, body)
	case TypeReceiverReport:
		p, err = decodeReceiverReport(h, body)
	case TypeSourceDescription:
		p, err = decodeSourceDescription(h, body)
	case TypeGoodbye:
		p, err = decodeGoodbye(h, body)
	case TypeApplicationDefined:
		p, err = decodeApplicationDefined(h, body)
	default:
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownPacketType, uint8(h.Type))
	}
	if err != nil {
		return nil, 0, err
	}
	return p, size, nil
}

// DecodeCompound parses every control packet in a compound datagram.
func DecodeCompound(b []byte) ([]Packet, error) {
	var out []Packet
	for len(b) > 0 {
		p, n, err := Decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		b = b[n:]
	}
	return out, nil
}

func decodeReceptionReports(count uint8, b []byte) ([]ReceptionReport, error) {
	if len(b) < int(count)*receptionReportLen {
		return nil, fmt.Errorf("%w: %d report blocks in %d bytes", ErrTruncated, count, len(b))
	}
	if count == 0 {
		return nil, nil
	}
	reports := make([]ReceptionReport, count)
	for i := range reports {
		r := b[i*receptionReportLen:]
		reports[i] = ReceptionReport{
			SSRC:               binary.BigEndian.Uint32(r[0:4]),
			FractionLost:       r[4],
			TotalLost:          uint32(r[5])<<16 | uint32(r[6])<<8 | uint32(r[7]),
			LastSequenceNumber: binary.BigEndian.Uint32(r[8:12]),
			Jitter:             binary.BigEndian.Uint32(r[12:16]),
			LastSenderReport:   binary.BigEndian.Uint32(r[16:20]),
			Delay:              binary.BigEndian.Uint32(r[20:24]),
		}
	}
	return reports, nil
}

func decodeSenderReport(h Header, body []byte) (*SenderReport, error) {
	if len(body) < 4+senderInfoLen {
		return nil, fmt.Errorf("%w: sender report body %d bytes", ErrTruncated, len(body))
	}
	reports, err := decodeReceptionReports(h.Count, body[4+senderInfoLen:])
	if err != nil {
		return nil, err
	}
	return &SenderReport{
		SSRC:        binary.BigEndian.Uint32(body[0:4]),
		NTPTime:     binary.BigEndian.Uint64(body[4:12]),
		RTPTime:     binary.BigEndian.Uint32(body[12:16]),
		PacketCount: binary.BigEndian.Uint32(body[16:20]),
		OctetCount:  binary.BigEndian.Uint32(body[20:24]),
		Reports:     reports,
	}, nil
}

func decodeReceiverReport(h Header, body []byte) (*ReceiverReport, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: receiver report body %d bytes", ErrTruncated, len(body))
	}
	reports, err := decodeReceptionReports(h.Count, body[4:])
	if err != nil {
		return nil, err
	}
	return &ReceiverReport{
		SSRC:    binary.BigEndian.Uint32(body[0:4]),
		Reports: reports,
	}, nil
}

func decodeSourceDescription(h Header, body []byte) (*SourceDescription, error) {
	p := &SourceDescription{}
	if h.Count > 0 {
		p.Chunks = make([]SourceDescriptionChunk, 0, h.Count)
	}
	off := 0
	for i := 0; i < int(h.Count); i++ {
		if len(body)-off < 4 {
			return nil, fmt.Errorf("%w: source description chunk %d", ErrTruncated, i)
		}
		start := off
		chunk := SourceDescriptionChunk{Source: binary.BigEndian.Uint32(body[off : off+4])}
		off += 4
		for {
			if off >= len(body) {
				return nil, fmt.Errorf("%w: unterminated source description chunk %d", ErrTruncated, i)
			}
			typ := SDESType(body[off])
			off++
			if typ == SDESEnd {
				break
			}
			if off >= len(body) {
				return nil, fmt.Errorf("%w: source description item length", ErrTruncated)
			}
			n := int(body[off])
			off++
			if off+n > len(body) {
				return nil, fmt.Errorf("%w: source description item text", ErrTruncated)
			}
			chunk.Items = append(chunk.Items, SourceDescriptionItem{Type: typ, Text: string(body[off : off+n])})
			off += n
		}
		off = start + pad4(off-start)
		if off > len(body) {
			off = len(body)
		}
		p.Chunks = append(p.Chunks, chunk)
	}
	return p, nil
}

func decodeGoodbye(h Header, body []byte) (*Goodbye, error) {
	if len(body) < 4*int(h.Count) {
		return nil, fmt.Errorf("%w: %d sources in %d bytes", ErrTruncated, h.Count, len(body))
	}
	p := &Goodbye{}
	if h.Count > 0 {
		p.Sources = make([]uint32, h.Count)
		for i := range p.Sources {
			p.Sources[i] = binary.BigEndian.Uint32(body[4*i : 4*i+4])
		}
	}
	rest := body[4*int(h.Count):]
	if len(rest) > 0 {
		n := int(rest[0])
		if 1+n > len(rest) {
			return nil, fmt.Errorf("%w: goodbye reason", ErrTruncated)
		}
		p.Reason = string(rest[1 : 1+n])
	}
	return p, nil
}

func decodeApplicationDefined(h Header, body []byte) (*ApplicationDefined, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("%w: application-defined body %d bytes", ErrTruncated, len(body))
	}
	p := &ApplicationDefined{
		Subtype: h.Count,
		SSRC:    binary.BigEndian.Uint32(body[0:4]),
		Name:    string(body[4:8]),
	}
	if len(body) > 8 {
		p.Data = append([]byte(nil), body[8:]...)
	}
	return p, nil
}

// Append appends the encoding of p to dst. The length field is computed from
// the packet's content.
func Append(dst []byte, p Packet) ([]byte, error) {
	var count int
	switch v := p.(type) {
	case *SenderReport:
		count = len(v.Reports)
	case *ReceiverReport:
		count = len(v.Reports)
	case *SourceDescription:
		count = len(v.Chunks)
		for _, c := range v.Chunks {
			for _, item := range c.Items {
				if len(item.Text) > 0xff {
					return nil, fmt.Errorf("%w: %s item is %d bytes", ErrTextTooLong, item.Type, len(item.Text))
				}
			}
		}
	case *Goodbye:
		count = len(v.Sources)
		if len(v.Reason) > 0xff {
			return nil, fmt.Errorf("%w: reason is %d bytes", ErrTextTooLong, len(v.Reason))
		}
	case *ApplicationDefined:
		count = int(v.Subtype)
		if v.Subtype > MaxCount {
			return nil, fmt.Errorf("%w: %d", ErrInvalidSubtype, v.Subtype)
		}
		if !validAppName(v.Name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAppName, v.Name)
		}
	default:
		return nil, fmt.Errorf("rtcp: cannot encode %T", p)
	}
	if count > MaxCount {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyItems, count, MaxCount)
	}

	first := Version<<6 | uint8(count)
	if app, ok := p.(*ApplicationDefined); ok && app.padding() > 0 {
		first |= 0x20
	}
	dst = append(dst, first, uint8(p.Type()))
	dst = binary.BigEndian.AppendUint16(dst, LengthWords(p))

	switch v := p.(type) {
	case *SenderReport:
		dst = binary.BigEndian.AppendUint32(dst, v.SSRC)
		dst = binary.BigEndian.AppendUint64(dst, v.NTPTime)
		dst = binary.BigEndian.AppendUint32(dst, v.RTPTime)
		dst = binary.BigEndian.AppendUint32(dst, v.PacketCount)
		dst = binary.BigEndian.AppendUint32(dst, v.OctetCount)
		dst = appendReceptionReports(dst, v.Reports)
	case *ReceiverReport:
		dst = binary.BigEndian.AppendUint32(dst, v.SSRC)
		dst = appendReceptionReports(dst, v.Reports)
	case *SourceDescription:
		for _, c := range v.Chunks {
			start := len(dst)
			dst = binary.BigEndian.AppendUint32(dst, c.Source)
			for _, item := range c.Items {
				dst = append(dst, uint8(item.Type), uint8(len(item.Text)))
				dst = append(dst, item.Text...)
			}
			dst = append(dst, uint8(SDESEnd))
			dst = appendZeros(dst, pad4(len(dst)-start)-(len(dst)-start))
		}
	case *Goodbye:
		for _, src := range v.Sources {
			dst = binary.BigEndian.AppendUint32(dst, src)
		}
		if v.Reason != "" {
			dst = append(dst, uint8(len(v.Reason)))
			dst = append(dst, v.Reason...)
			dst = appendZeros(dst, pad4(1+len(v.Reason))-(1+len(v.Reason)))
		}
	case *ApplicationDefined:
		dst = binary.BigEndian.AppendUint32(dst, v.SSRC)
		dst = append(dst, v.Name...)
		dst = append(dst, v.Data...)
		if n := v.padding(); n > 0 {
			dst = appendZeros(dst, n-1)
			dst = append(dst, uint8(n))
		}
	}
	return dst, nil
}

// Marshal returns a freshly allocated encoding of p.
func Marshal(p Packet) ([]byte, error) {
	return Append(make([]byte, 0, p.Len()), p)
}

// MarshalCompound concatenates the encodings of packets into one datagram.
func MarshalCompound(packets ...Packet) ([]byte, error) {
	n := 0
	for _, p := range packets {
		n += p.Len()
	}
	dst := make([]byte, 0, n)
	for _, p := range packets {
		var err error
		if dst, err = Append(dst, p); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func appendReceptionReports(dst []byte, reports []ReceptionReport) []byte {
	for _, r := range reports {
		dst = binary.BigEndian.AppendUint32(dst, r.SSRC)
		dst = append(dst, r.FractionLost, uint8(r.TotalLost>>16), uint8(r.TotalLost>>8), uint8(r.TotalLost))
		dst = binary.BigEndian.AppendUint32(dst, r.LastSequenceNumber)
		dst = binary.BigEndian.AppendUint32(dst, r.Jitter)
		dst = binary.BigEndian.AppendUint32(dst, r.LastSenderReport)
		dst = binary.BigEndian.AppendUint32(dst, r.Delay)
	}
	return dst
}

func appendZeros(dst []byte, n int) []byte {
	for i := 0; i < n; i++ {
		dst = append(dst, 0)
	}
	return dst
}

func validAppName(name string) bool {
	if len(name) != 4 {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] > 0x7f {
			return false
		}
	}
	return true
}
