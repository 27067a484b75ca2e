package record

import (
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TimeLayout is the UTC layout used for the Time column.
const TimeLayout = "2006-01-02 15:04:05"

const (
	minFields = 6
	maxFields = 14

	timeCacheSize = 4096
)

// Reason says why a line did or did not produce a record.
type Reason int

const (
	Accepted Reason = iota
	EmptyLine
	TooFewFields
	WrongType
	BadTimestamp
)

func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case EmptyLine:
		return "empty_line"
	case TooFewFields:
		return "too_few_fields"
	case WrongType:
		return "wrong_type"
	case BadTimestamp:
		return "bad_timestamp"
	default:
		return "unknown"
	}
}

// Result is the outcome of parsing one line: a record, or the reason there is none.
type Result struct {
	Record *Record
	Reason Reason
}

// OK reports whether the line produced a record.
func (r Result) OK() bool { return r.Reason == Accepted && r.Record != nil }

func reject(reason Reason) Result { return Result{Reason: reason} }

// Parser parses "bgpdump -m" lines. Dump files carry few distinct seconds, so
// formatted timestamps are memoised. A Parser is safe for concurrent use.
type Parser struct {
	times *lru.Cache[int64, string]
}

// NewParser returns a Parser with a bounded timestamp cache.
func NewParser() *Parser {
	c, _ := lru.New[int64, string](timeCacheSize)
	return &Parser{times: c}
}

// Parse parses one line of the form
//
//	BGP4MP|<epoch>|A|<peer_ip>|<peer_as>|<prefix>|<as_path>|<origin>|<next_hop>|<local_pref>|<med>|<community>|<atomic_agg>|<aggregator>
//	BGP4MP|<epoch>|W|<peer_ip>|<peer_as>|<prefix>
//
// Any entry type other than W is treated as an announcement.
func (p *Parser) Parse(line string) Result {
	line = strings.TrimSpace(line)
	if line == "" {
		return reject(EmptyLine)
	}

	parts := strings.Split(line, "|")
	if len(parts) < minFields {
		return reject(TooFewFields)
	}
	if parts[0] != MRTType {
		return reject(WrongType)
	}

	epoch, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return reject(BadTimestamp)
	}

	rec := &Record{
		MRTType: MRTType,
		Time:    p.formatTime(epoch),
		PeerIP:  parts[3],
		PeerAS:  parts[4],
		Prefix:  parts[5],
		Label:   LabelNormal,
	}

	if parts[2] == string(Withdraw) {
		rec.EntryType = Withdraw
		return Result{Record: rec, Reason: Accepted}
	}

	rec.EntryType = Announce
	rec.ASPath = field(parts, 6)
	rec.Origin = field(parts, 7)
	rec.NextHop = field(parts, 8)
	rec.LocalPref = field(parts, 9)
	rec.MED = field(parts, 10)
	rec.Community = field(parts, 11)
	rec.AtomicAggregate = field(parts, 12)
	rec.Aggregator = field(parts, 13)
	return Result{Record: rec, Reason: Accepted}
}

// ParseLines parses every line, keeping accepted records in input order.
func (p *Parser) ParseLines(lines []string) []Record {
	out := make([]Record, 0, len(lines))
	for _, l := range lines {
		if res := p.Parse(l); res.OK() {
			out = append(out, *res.Record)
		}
	}
	return out
}

func (p *Parser) formatTime(epoch int64) string {
	if p == nil || p.times == nil {
		return FormatTime(epoch)
	}
	if s, ok := p.times.Get(epoch); ok {
		return s
	}
	s := FormatTime(epoch)
	p.times.Add(epoch, s)
	return s
}

// field returns parts[i], or "" past the end. Fields beyond maxFields are ignored.
func field(parts []string, i int) string {
	if i >= maxFields || i >= len(parts) {
		return ""
	}
	return parts[i]
}

// FormatTime renders a Unix epoch as a UTC TimeLayout string.
func FormatTime(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(TimeLayout)
}

var defaultParser = NewParser()

// ParseLine parses a single line with a shared parser.
func ParseLine(line string) (Record, bool) {
	res := defaultParser.Parse(line)
	if !res.OK() {
		return Record{}, false
	}
	return *res.Record, true
}

// ParseLines parses lines with a shared parser.
func ParseLines(lines []string) []Record {
	return defaultParser.ParseLines(lines)
}
