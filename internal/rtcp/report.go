package rtcp

const (
	senderInfoLen      = 20
	receptionReportLen = 24
)

// ReceptionReport is one 24-byte report block carried by sender and receiver
// reports.
type ReceptionReport struct {
	SSRC         uint32
	FractionLost uint8
	// TotalLost is the cumulative number of packets lost. Only the low 24 bits
	// are carried on the wire.
	TotalLost uint32
	// LastSequenceNumber is the extended highest sequence number received.
	LastSequenceNumber uint32
	Jitter             uint32
	// LastSenderReport is the middle 32 bits of the NTP timestamp of the most
	// recent sender report from this source.
	LastSenderReport uint32
	// Delay is the time since that sender report, in units of 1/65536 seconds.
	Delay uint32
}

// SenderReport carries transmission statistics from an active sender.
type SenderReport struct {
	SSRC        uint32
	NTPTime     uint64
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
	Reports     []ReceptionReport
}

func (*SenderReport) Type() PacketType { return TypeSenderReport }
func (*SenderReport) packet()          {}

func (p *SenderReport) Len() int {
	return HeaderLen + 4 + senderInfoLen + receptionReportLen*len(p.Reports)
}

// ReceiverReport carries reception statistics from a participant that is not
// sending media.
type ReceiverReport struct {
	SSRC    uint32
	Reports []ReceptionReport
}

func (*ReceiverReport) Type() PacketType { return TypeReceiverReport }
func (*ReceiverReport) packet()          {}

func (p *ReceiverReport) Len() int {
	return HeaderLen + 4 + receptionReportLen*len(p.Reports)
}
