// Package mrt streams the elements of MRT archive files.
package mrt

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	pp "github.com/CSUNetSec/protoparse"
	ppmrt "github.com/CSUNetSec/protoparse/protocol/mrt"

	"github.com/shadimotaali/first-full-paper/internal/archive"
)

// MRT record types and TABLE_DUMP_V2 subtypes (RFC 6396, RFC 8050).
const (
	typeTableDumpV2 = 13
	typeBGP4MP      = 16
	typeBGP4MPET    = 17

	subtypePeerIndexTable = 1
	subtypeRIBGeneric     = 6

	headerLen = 12
)

// Element is a run of Count elements that share one timestamp: the entries
// of a single RIB record, or the prefixes of a single update message.
type Element struct {
	Timestamp int64
	Count     int
}

// Source yields the elements of an MRT file in file order.
type Source interface {
	Each(ctx context.Context, path string, fn func(Element) error) error
}

// ProtoparseSource frames records with SplitRecords and reads each record's
// timestamp from its decoded common header.
type ProtoparseSource struct {
	// Timestamp decodes a record's header timestamp. Nil uses protoparse.
	Timestamp func(data []byte) (int64, error)
	// Skipped counts records that could not be decoded in the last Each.
	Skipped int
}

// Each calls fn once per record carrying elements. The TABLE_DUMP_V2 peer
// index table carries none and is skipped.
func (s *ProtoparseSource) Each(ctx context.Context, path string, fn func(Element) error) error {
	rc, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	decode := s.Timestamp
	if decode == nil {
		decode = headerTimestamp
	}

	scanner := NewScanner(rc)

	s.Skipped = 0
	n := 0
	for scanner.Scan() {
		n++
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		data := scanner.Bytes()
		info, err := inspect(data)
		if err != nil {
			s.Skipped++
			continue
		}
		if info.count == 0 {
			continue
		}
		ts, err := decode(data)
		if err != nil {
			s.Skipped++
			continue
		}
		if err := fn(Element{Timestamp: ts, Count: info.count}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}

// ErrTruncated means the file ended inside an MRT record.
var ErrTruncated = errors.New("truncated mrt record")

const maxRecord = 2 << 24

// NewScanner returns a scanner yielding one MRT record per token.
func NewScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Split(SplitRecords)
	scanner.Buffer(make([]byte, 64*1024), maxRecord)
	return scanner
}

// SplitRecords frames MRT records by their header length field, also at EOF
// where protoparse's splitter returns the whole remainder as one token.
func SplitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	advance, token, err := ppmrt.SplitMrt(data, false)
	if err != nil || token != nil {
		return advance, token, err
	}
	if atEOF {
		return 0, nil, ErrTruncated
	}
	return 0, nil, nil
}

func headerTimestamp(data []byte) (int64, error) {
	var hdr pp.PbVal = ppmrt.NewMrtHdrBuf(data)
	if _, err := hdr.Parse(); err != nil {
		return 0, err
	}
	h := hdr.(pp.MRTHeaderer).GetHeader()
	if h == nil {
		return 0, errors.New("empty mrt header")
	}
	return int64(h.Timestamp), nil
}

type recordInfo struct {
	typ, subtype uint16
	count        int
}

var errShortRecord = errors.New("short mrt record")

// inspect reads the record type and how many elements it carries.
func inspect(data []byte) (recordInfo, error) {
	if len(data) < headerLen {
		return recordInfo{}, errShortRecord
	}
	info := recordInfo{
		typ:     binary.BigEndian.Uint16(data[4:6]),
		subtype: binary.BigEndian.Uint16(data[6:8]),
		count:   1,
	}
	body := data[headerLen:]

	switch info.typ {
	case typeTableDumpV2:
		switch {
		case info.subtype == subtypePeerIndexTable:
			info.count = 0
		case info.subtype == subtypeRIBGeneric:
			// AFI/SAFI-specific NLRI; counted as one element.
		default:
			n, err := ribEntryCount(body)
			if err != nil {
				return info, err
			}
			info.count = n
		}
	case typeBGP4MP, typeBGP4MPET:
		n, _ := updatePrefixCount(data)
		info.count = n
	}
	return info, nil
}

// ribEntryCount reads a RIB_{IPV4,IPV6}_{UNICAST,MULTICAST} body, with or
// without ADD-PATH: sequence(4) prefix_len(1) prefix(ceil(len/8)) entry_count(2).
func ribEntryCount(body []byte) (int, error) {
	if len(body) < 5 {
		return 0, errShortRecord
	}
	plen := int(body[4])
	off := 5 + (plen+7)/8
	if len(body) < off+2 {
		return 0, errShortRecord
	}
	return int(binary.BigEndian.Uint16(body[off : off+2])), nil
}

// updatePrefixCount counts the announced and withdrawn prefixes of a BGP4MP
// update. State changes and other messages carry no elements.
func updatePrefixCount(data []byte) (int, bool) {
	mbs, err := ppmrt.ParseHeaders(data, false)
	if err != nil || mbs == nil || mbs.Bgpupbuf == nil {
		return 0, false
	}
	updater, ok := mbs.Bgpupbuf.(pp.BGPUpdater)
	if !ok {
		return 0, false
	}
	u := updater.GetUpdate()
	if u == nil {
		return 0, false
	}
	n := 0
	if u.AdvertisedRoutes != nil {
		n += len(u.AdvertisedRoutes.Prefixes)
	}
	if u.WithdrawnRoutes != nil {
		n += len(u.WithdrawnRoutes.Prefixes)
	}
	return n, true
}
