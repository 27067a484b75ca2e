// Package record turns the machine-readable output of a BGP dump tool into
// typed update records.
package record

// MRTType is the message-framing marker every accepted line starts with.
const MRTType = "BGP4MP"

// LabelNormal is the classification tag attached to every collected record.
const LabelNormal = "normal"

// EntryType distinguishes announcements from withdrawals.
type EntryType string

const (
	Announce EntryType = "A"
	Withdraw EntryType = "W"
)

// Columns is the fixed CSV header, in output order.
var Columns = []string{
	"MRT_Type", "Time", "Entry_Type", "Peer_IP", "Peer_AS",
	"Prefix", "AS_Path", "Origin", "Next_Hop", "Local_Pref",
	"MED", "Community", "Atomic_Aggregate", "Aggregator", "Label",
}

// Record is one BGP update row. Announcement-only attributes are empty on withdrawals.
type Record struct {
	MRTType   string    `json:"MRT_Type"`
	Time      string    `json:"Time"`
	EntryType EntryType `json:"Entry_Type"`
	PeerIP    string    `json:"Peer_IP"`
	PeerAS    string    `json:"Peer_AS"`
	Prefix    string    `json:"Prefix"`

	ASPath          string `json:"AS_Path"`
	Origin          string `json:"Origin"`
	NextHop         string `json:"Next_Hop"`
	LocalPref       string `json:"Local_Pref"`
	MED             string `json:"MED"`
	Community       string `json:"Community"`
	AtomicAggregate string `json:"Atomic_Aggregate"`
	Aggregator      string `json:"Aggregator"`

	Label string `json:"Label"`
}

// Values returns the record's cells in Columns order.
func (r Record) Values() []string {
	return []string{
		r.MRTType, r.Time, string(r.EntryType), r.PeerIP, r.PeerAS,
		r.Prefix, r.ASPath, r.Origin, r.NextHop, r.LocalPref,
		r.MED, r.Community, r.AtomicAggregate, r.Aggregator, r.Label,
	}
}

// IsAnnounce reports whether the record is an announcement.
func (r Record) IsAnnounce() bool { return r.EntryType == Announce }

// Fields returns the non-empty cells keyed by column name, in Columns order.
func (r Record) Fields() [][2]string {
	vals := r.Values()
	out := make([][2]string, 0, len(vals))
	for i, v := range vals {
		if v != "" {
			out = append(out, [2]string{Columns[i], v})
		}
	}
	return out
}
