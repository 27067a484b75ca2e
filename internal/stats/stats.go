// Package stats summarises a set of collected update records.
package stats

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/CSUNetSec/protoparse/util"
	radix "github.com/armon/go-radix"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/shadimotaali/first-full-paper/internal/record"
)

// Summary holds the counts printed after a collection run.
type Summary struct {
	Total         int
	Announcements int
	Withdrawals   int
	// WithOrigin counts announcements whose AS path is non-empty, so the
	// origin AS (the last hop) is known.
	WithOrigin    int
	WithMED       int
	WithCommunity int

	DistinctPrefixes int
	// TopLevelPrefixes counts distinct prefixes not covered by a less
	// specific prefix also present in the set.
	TopLevelPrefixes int
	InvalidPrefixes  int
	Peers            int
}

// Compute walks records once and fills a Summary.
func Compute(records []record.Record) Summary {
	s := Summary{Total: len(records)}
	peers := make(map[string]struct{})
	tree := newPrefixTree()

	for _, r := range records {
		if r.IsAnnounce() {
			s.Announcements++
			if strings.TrimSpace(r.ASPath) != "" {
				s.WithOrigin++
			}
		} else {
			s.Withdrawals++
		}
		if r.MED != "" {
			s.WithMED++
		}
		if r.Community != "" {
			s.WithCommunity++
		}
		peers[r.PeerIP+"|"+r.PeerAS] = struct{}{}
		if !tree.add(r.Prefix) {
			s.InvalidPrefixes++
		}
	}

	s.Peers = len(peers)
	s.DistinctPrefixes = tree.len()
	s.TopLevelPrefixes = tree.topLevel()
	return s
}

// OriginAS returns the last element of an AS path, or "" when there is none.
func OriginAS(asPath string) string {
	f := strings.Fields(asPath)
	if len(f) == 0 {
		return ""
	}
	return f[len(f)-1]
}

// SampleAnnouncement returns the first announcement in records.
func SampleAnnouncement(records []record.Record) (record.Record, bool) {
	for _, r := range records {
		if r.IsAnnounce() {
			return r, true
		}
	}
	return record.Record{}, false
}

// Print writes the human-readable statistics block and, when sample is
// non-nil, its non-empty fields.
func Print(w io.Writer, s Summary, sample *record.Record) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "\nStatistics:\n")
	p.Fprintf(w, "  Announcements: %d\n", s.Announcements)
	p.Fprintf(w, "  Withdrawals: %d\n", s.Withdrawals)
	p.Fprintf(w, "  Records with Origin AS: %d\n", s.WithOrigin)
	p.Fprintf(w, "  Records with MED: %d\n", s.WithMED)
	p.Fprintf(w, "  Records with Communities: %d\n", s.WithCommunity)
	p.Fprintf(w, "  Distinct prefixes: %d (%d top-level)\n", s.DistinctPrefixes, s.TopLevelPrefixes)
	p.Fprintf(w, "  Peers: %d\n", s.Peers)

	if sample == nil {
		return
	}
	fmt.Fprintf(w, "\nSample announcement:\n")
	for _, kv := range sample.Fields() {
		fmt.Fprintf(w, "  %s: %s\n", kv[0], kv[1])
	}
}

// prefixTree keeps IPv4 and IPv6 prefixes in separate radix trees keyed by
// their leading mask bits.
type prefixTree struct {
	v4, v6 *radix.Tree
}

func newPrefixTree() *prefixTree {
	return &prefixTree{v4: radix.New(), v6: radix.New()}
}

func (t *prefixTree) add(prefix string) bool {
	_, n, err := net.ParseCIDR(strings.TrimSpace(prefix))
	if err != nil {
		return false
	}
	ones, _ := n.Mask.Size()
	tree := t.v6
	ip := n.IP
	if v4 := ip.To4(); v4 != nil {
		ip, tree = v4, t.v4
	}
	key := util.IPToRadixkey(ip, uint8(ones))
	if _, ok := tree.Get(key); !ok {
		tree.Insert(key, n.String())
	}
	return true
}

func (t *prefixTree) len() int { return t.v4.Len() + t.v6.Len() }

func (t *prefixTree) topLevel() int {
	count := 0
	for _, tree := range []*radix.Tree{t.v4, t.v6} {
		tree.Walk(func(key string, _ interface{}) bool {
			covered := false
			tree.WalkPath(key, func(k string, _ interface{}) bool {
				if k != key {
					covered = true
					return true
				}
				return false
			})
			if !covered {
				count++
			}
			return false
		})
	}
	return count
}
