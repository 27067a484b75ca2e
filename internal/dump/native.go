package dump

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	common "github.com/CSUNetSec/netsec-protobufs/common"
	pbbgp "github.com/CSUNetSec/netsec-protobufs/protocol/bgp"
	pp "github.com/CSUNetSec/protoparse"
	ppmrt "github.com/CSUNetSec/protoparse/protocol/mrt"
	"github.com/CSUNetSec/protoparse/util"

	"github.com/shadimotaali/first-full-paper/internal/archive"
	"github.com/shadimotaali/first-full-paper/internal/mrt"
	"github.com/shadimotaali/first-full-paper/internal/record"
)

// NativeDumper decodes BGP4MP update messages in-process and renders them in
// the "bgpdump -m" layout. RIB records, state changes and messages that are
// not updates are skipped.
type NativeDumper struct {
	// Skipped counts records that could not be decoded in the last Dump.
	Skipped int
}

func (d *NativeDumper) Dump(ctx context.Context, path string) (string, error) {
	rc, err := archive.Open(path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	scanner := mrt.NewScanner(rc)
	d.Skipped = 0
	var sb strings.Builder
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data := scanner.Bytes()
		if isRib, err := ppmrt.IsRib(data); err != nil || isRib {
			d.Skipped++
			continue
		}
		mbs, err := ppmrt.ParseHeaders(data, false)
		if err != nil {
			d.Skipped++
			continue
		}
		writeUpdate(&sb, mbs)
	}
	if err := scanner.Err(); err != nil {
		return sb.String(), fmt.Errorf("scan %s: %w", path, err)
	}
	return sb.String(), nil
}

func writeUpdate(sb *strings.Builder, mbs *ppmrt.MrtBufferStack) {
	mh, ok1 := mbs.MrthBuf.(pp.MRTHeaderer)
	bh, ok2 := mbs.Bgp4mpbuf.(pp.BGP4MPHeaderer)
	up, ok3 := mbs.Bgpupbuf.(pp.BGPUpdater)
	if !ok1 || !ok2 || !ok3 {
		return
	}
	hdr, b4, update := mh.GetHeader(), bh.GetHeader(), up.GetUpdate()
	if hdr == nil || b4 == nil || update == nil {
		return
	}

	ts := strconv.FormatInt(int64(hdr.Timestamp), 10)
	peerIP := ipString(b4.Peer_IP)
	peerAS := strconv.FormatUint(uint64(b4.Peer_AS), 10)

	if update.WithdrawnRoutes != nil {
		for _, p := range update.WithdrawnRoutes.Prefixes {
			fmt.Fprintf(sb, "%s|%s|W|%s|%s|%s\n", record.MRTType, ts, peerIP, peerAS, prefixString(p))
		}
	}
	if update.AdvertisedRoutes != nil {
		attrs := attrColumns(update.Attrs)
		for _, p := range update.AdvertisedRoutes.Prefixes {
			fmt.Fprintf(sb, "%s|%s|A|%s|%s|%s|%s|\n", record.MRTType, ts, peerIP, peerAS, prefixString(p), attrs)
		}
	}
}

// attrColumns renders AS path, origin, next hop, local pref, MED, communities,
// atomic aggregate and aggregator joined by "|".
func attrColumns(a *pbbgp.BGPUpdate_Attributes) string {
	if a == nil {
		return "|||0|0||NAG|"
	}
	cols := []string{
		asPathString(a.ASPath),
		originString(a.Origin),
		ipString(a.NextHop),
		strconv.FormatUint(uint64(a.LocalPref), 10),
		strconv.FormatUint(uint64(a.MultiExit), 10),
		communityString(a.Communities),
		"NAG",
		"",
	}
	if a.AtomicAggregate {
		cols[6] = "AG"
	}
	if a.Aggregator != nil {
		cols[7] = fmt.Sprintf("%d %s", a.Aggregator.AS, ipString(a.Aggregator.IP))
	}
	return strings.Join(cols, "|")
}

func asPathString(segs []*pbbgp.BGPUpdate_ASPathSegment) string {
	var path []string
	for _, seg := range segs {
		for _, as := range seg.ASSeq {
			path = append(path, strconv.FormatUint(uint64(as), 10))
		}
		if len(seg.ASSet) > 0 {
			set := make([]string, 0, len(seg.ASSet))
			for _, as := range seg.ASSet {
				set = append(set, strconv.FormatUint(uint64(as), 10))
			}
			path = append(path, "{"+strings.Join(set, ",")+"}")
		}
	}
	return strings.Join(path, " ")
}

func originString(o pbbgp.BGPUpdate_Attributes_Origin) string {
	switch o {
	case pbbgp.BGPUpdate_Attributes_IGP:
		return "IGP"
	case pbbgp.BGPUpdate_Attributes_EGP:
		return "EGP"
	default:
		return "INCOMPLETE"
	}
}

// communityString renders standard communities as "asn:value". Extended
// communities are not part of the bgpdump -m column.
func communityString(c *pbbgp.BGPUpdate_Communities) string {
	if c == nil {
		return ""
	}
	var out []string
	for _, com := range c.Communities {
		b := com.Community
		for i := 0; i+4 <= len(b); i += 4 {
			out = append(out, fmt.Sprintf("%d:%d", binary.BigEndian.Uint16(b[i:i+2]), binary.BigEndian.Uint16(b[i+2:i+4])))
		}
	}
	return strings.Join(out, " ")
}

func ipString(a *common.IPAddressWrapper) string {
	if a == nil {
		return ""
	}
	ip := util.GetIP(a)
	if ip == nil {
		return ""
	}
	return net.IP(ip).String()
}

func prefixString(p *common.PrefixWrapper) string {
	return fmt.Sprintf("%s/%d", ipString(p.GetPrefix()), p.Mask)
}
