package mrt

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func mrtRecord(ts uint32, typ, subtype uint16, body []byte) []byte {
	b := make([]byte, headerLen, headerLen+len(body))
	binary.BigEndian.PutUint32(b[0:4], ts)
	binary.BigEndian.PutUint16(b[4:6], typ)
	binary.BigEndian.PutUint16(b[6:8], subtype)
	binary.BigEndian.PutUint32(b[8:12], uint32(len(body)))
	return append(b, body...)
}

// ribBody is a RIB_IPV4_UNICAST body for a /24 with n empty-attribute entries.
func ribBody(seq uint32, n int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, seq)
	b = append(b, 24, 10, 0, 0)
	cnt := make([]byte, 2)
	binary.BigEndian.PutUint16(cnt, uint16(n))
	b = append(b, cnt...)
	for i := 0; i < n; i++ {
		// peer index(2) originated time(4) attribute length(2)
		b = append(b, 0, byte(i), 0, 0, 0, 0, 0, 0)
	}
	return b
}

func writeBview(t *testing.T, records ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bview.20251117.0000.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	for _, r := range records {
		zw.Write(r)
	}
	zw.Close()
	f.Close()
	return path
}

func rawTimestamp(data []byte) (int64, error) {
	return int64(binary.BigEndian.Uint32(data[0:4])), nil
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		count int
		err   bool
	}{
		{"peer index", mrtRecord(1, typeTableDumpV2, subtypePeerIndexTable, []byte{1, 2, 3, 4}), 0, false},
		{"rib entries", mrtRecord(1, typeTableDumpV2, 2, ribBody(0, 3)), 3, false},
		{"ipv6 rib", mrtRecord(1, typeTableDumpV2, 4, append([]byte{0, 0, 0, 1, 32, 0x20, 0x01, 0x0d, 0xb8}, 0, 7)), 7, false},
		{"rib generic", mrtRecord(1, typeTableDumpV2, subtypeRIBGeneric, []byte{0}), 1, false},
		{"truncated rib", mrtRecord(1, typeTableDumpV2, 2, []byte{0, 0, 0, 0, 24, 10}), 0, true},
		{"short header", []byte{0, 0, 0}, 0, true},
		{"other type", mrtRecord(1, 12, 1, nil), 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := inspect(tt.data)
			if (err != nil) != tt.err {
				t.Fatalf("inspect() error = %v, wantErr %v", err, tt.err)
			}
			if err == nil && info.count != tt.count {
				t.Errorf("expected count %d, got %d", tt.count, info.count)
			}
		})
	}
}

func TestEach_SkipsPeerIndex(t *testing.T) {
	path := writeBview(t,
		mrtRecord(1763337600, typeTableDumpV2, subtypePeerIndexTable, []byte{0, 0, 0, 0, 0, 0}),
		mrtRecord(1763337600, typeTableDumpV2, 2, ribBody(0, 2)),
		mrtRecord(1763337600, typeTableDumpV2, 2, ribBody(1, 5)),
		mrtRecord(1763337601, typeTableDumpV2, 2, ribBody(2, 1)),
	)

	src := &ProtoparseSource{Timestamp: rawTimestamp}
	var got []Element
	err := src.Each(context.Background(), path, func(e Element) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Element{{1763337600, 2}, {1763337600, 5}, {1763337601, 1}}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestEach_CallbackErrorStops(t *testing.T) {
	path := writeBview(t,
		mrtRecord(1, typeTableDumpV2, 2, ribBody(0, 1)),
		mrtRecord(2, typeTableDumpV2, 2, ribBody(1, 1)),
	)
	stop := errors.New("stop")
	calls := 0
	err := (&ProtoparseSource{Timestamp: rawTimestamp}).Each(context.Background(), path, func(Element) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("expected stop after first element, got %v after %d calls", err, calls)
	}
}

func TestEach_DecodeFailuresSkipped(t *testing.T) {
	path := writeBview(t,
		mrtRecord(1, typeTableDumpV2, 2, ribBody(0, 1)),
		mrtRecord(2, typeTableDumpV2, 2, ribBody(1, 1)),
	)
	src := &ProtoparseSource{Timestamp: func(data []byte) (int64, error) {
		if data[3] == 1 {
			return 0, errors.New("bad header")
		}
		return rawTimestamp(data)
	}}
	total := 0
	if err := src.Each(context.Background(), path, func(e Element) error { total += e.Count; return nil }); err != nil {
		t.Fatal(err)
	}
	if total != 1 || src.Skipped != 1 {
		t.Errorf("expected 1 element and 1 skipped, got %d and %d", total, src.Skipped)
	}
}

// withdrawalRecord is a BGP4MP MESSAGE_AS4 update withdrawing two /24s.
func withdrawalRecord(ts uint32) []byte {
	upd := []byte{0, 8, 24, 10, 0, 0, 24, 10, 1, 0, 0, 0}
	msg := make([]byte, 16, 19+len(upd))
	for i := range msg {
		msg[i] = 0xff
	}
	msg = append(msg, 0, byte(19+len(upd)), 2)
	msg = append(msg, upd...)
	body := []byte{0, 0, 0xfd, 0xe9, 0, 0, 0x31, 0x6e, 0, 0, 0, 1, 198, 51, 100, 1, 193, 0, 4, 28}
	return mrtRecord(ts, typeBGP4MP, 4, append(body, msg...))
}

func TestEach_HeaderDecoder(t *testing.T) {
	path := writeBview(t,
		mrtRecord(1763337600, typeTableDumpV2, subtypePeerIndexTable, []byte{0, 0, 0, 0, 0, 0}),
		mrtRecord(1763337600, typeTableDumpV2, 2, ribBody(0, 2)),
		mrtRecord(1763337601, typeTableDumpV2, 2, ribBody(1, 3)),
	)

	src := &ProtoparseSource{}
	var got []Element
	err := src.Each(context.Background(), path, func(e Element) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Element{{1763337600, 2}, {1763337601, 3}}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if src.Skipped != 0 {
		t.Errorf("expected no skipped records, got %d", src.Skipped)
	}
}

func TestEach_UpdatePrefixes(t *testing.T) {
	path := writeBview(t, withdrawalRecord(1700000000), withdrawalRecord(1700000300))

	var got []Element
	if err := (&ProtoparseSource{}).Each(context.Background(), path, func(e Element) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != (Element{1700000000, 2}) || got[1] != (Element{1700000300, 2}) {
		t.Errorf("unexpected elements %v", got)
	}
}

func TestEach_TruncatedTail(t *testing.T) {
	rec := mrtRecord(1763337600, typeTableDumpV2, 2, ribBody(0, 4))
	path := writeBview(t, rec, rec[:len(rec)-3])

	total := 0
	err := (&ProtoparseSource{}).Each(context.Background(), path, func(e Element) error {
		total += e.Count
		return nil
	})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if total != 4 {
		t.Errorf("expected the complete record to be counted, got %d", total)
	}
}

func TestSplitRecords(t *testing.T) {
	a := mrtRecord(1, typeTableDumpV2, 2, ribBody(0, 1))
	b := mrtRecord(2, typeTableDumpV2, 2, ribBody(1, 2))
	data := append(append([]byte{}, a...), b...)

	for _, atEOF := range []bool{false, true} {
		adv, tok, err := SplitRecords(data, atEOF)
		if err != nil || adv != len(a) || len(tok) != len(a) {
			t.Errorf("atEOF=%v: expected first record of %d bytes, got adv=%d len=%d err=%v", atEOF, len(a), adv, len(tok), err)
		}
	}
	if adv, tok, err := SplitRecords(data[:5], false); adv != 0 || tok != nil || err != nil {
		t.Errorf("expected request for more data, got %d %v %v", adv, tok, err)
	}
	if _, _, err := SplitRecords(data[:5], true); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated on short tail, got %v", err)
	}
	if adv, tok, err := SplitRecords(nil, true); adv != 0 || tok != nil || err != nil {
		t.Errorf("expected clean end, got %d %v %v", adv, tok, err)
	}
}

func TestEach_MissingFile(t *testing.T) {
	err := (&ProtoparseSource{}).Each(context.Background(), filepath.Join(t.TempDir(), "nope.gz"), func(Element) error { return nil })
	if err == nil {
		t.Error("expected error for missing file")
	}
}
