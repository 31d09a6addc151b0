package policystore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
	"github.com/reglet-dev/procguard/internal/tablehash"
)

// BundleVersion is the format version written by EncodeBundle.
const BundleVersion = 1

// ErrBundleVersion is returned for bundles written in another format version.
var ErrBundleVersion = errors.New("unsupported bundle version")

// bundleDoc is the wire form of a bundle: one attribute record per profile
// and a pool of distinct tables the records point into.
type bundleDoc struct {
	Version  uint            `cbor:"1,keyasint"`
	Profiles []profileRecord `cbor:"2,keyasint"`
	Tables   []tableRecord   `cbor:"3,keyasint"`
}

type profileRecord struct {
	Name  string         `cbor:"1,keyasint"`
	Tag   uint32         `cbor:"2,keyasint"`
	Flags entities.Flags `cbor:"3,keyasint"`

	// Table references are pool indexes plus one; zero means no table.
	Native    int  `cbor:"4,keyasint,omitempty"`
	Secondary int  `cbor:"5,keyasint,omitempty"`
	Filtered  bool `cbor:"6,keyasint,omitempty"`
}

type tableRecord struct {
	Digest tablehash.Digest `cbor:"1,keyasint"`
	Len    int              `cbor:"2,keyasint"`
	Bits   []byte           `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode(); err != nil {
		panic(err)
	}
}

// EncodeBundle serializes profiles deterministically: equal inputs produce
// identical bytes regardless of input order, and byte-identical tables are
// stored once.
func EncodeBundle(profiles []ports.CompiledProfile) ([]byte, error) {
	sorted := append([]ports.CompiledProfile(nil), profiles...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tag < sorted[j].Tag })

	doc := bundleDoc{Version: BundleVersion, Profiles: make([]profileRecord, 0, len(sorted))}
	index := make(map[tablehash.Digest]int)
	ref := func(t *entities.SyscallTable) int {
		if t == nil {
			return 0
		}
		d := tablehash.Sum(t)
		if i, ok := index[d]; ok {
			return i + 1
		}
		index[d] = len(doc.Tables)
		doc.Tables = append(doc.Tables, tableRecord{Digest: d, Len: t.Len(), Bits: t.Bytes()})
		return len(doc.Tables)
	}

	for i, p := range sorted {
		if i > 0 && sorted[i-1].Tag == p.Tag {
			return nil, fmt.Errorf("duplicate tag %s in bundle", p.Tag)
		}
		rec := profileRecord{Name: p.Name, Tag: uint32(p.Tag), Flags: p.Flags}
		if p.Filters != nil {
			rec.Filtered = true
			rec.Native = ref(p.Filters.Native)
			rec.Secondary = ref(p.Filters.Secondary)
		}
		doc.Profiles = append(doc.Profiles, rec)
	}

	return encMode.Marshal(&doc)
}

// DecodeBundle parses a bundle and verifies every table against its digest.
// Profiles referencing the same pool entry share one table.
func DecodeBundle(data []byte) ([]ports.CompiledProfile, error) {
	var doc bundleDoc
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	if doc.Version != BundleVersion {
		return nil, fmt.Errorf("%w %d", ErrBundleVersion, doc.Version)
	}

	tables := make([]*entities.SyscallTable, len(doc.Tables))
	for i, rec := range doc.Tables {
		t, err := entities.SyscallTableFromBytes(rec.Len, rec.Bits)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
		if tablehash.Sum(t) != rec.Digest {
			return nil, fmt.Errorf("table %d: digest mismatch", i)
		}
		tables[i] = t
	}
	lookup := func(ref int) (*entities.SyscallTable, error) {
		if ref == 0 {
			return nil, nil
		}
		if ref < 0 || ref > len(tables) {
			return nil, fmt.Errorf("table reference %d out of range", ref)
		}
		return tables[ref-1], nil
	}

	out := make([]ports.CompiledProfile, 0, len(doc.Profiles))
	for _, rec := range doc.Profiles {
		p := ports.CompiledProfile{Name: rec.Name, Tag: entities.Tag(rec.Tag), Flags: rec.Flags}
		if rec.Filtered {
			native, err := lookup(rec.Native)
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", rec.Name, err)
			}
			secondary, err := lookup(rec.Secondary)
			if err != nil {
				return nil, fmt.Errorf("profile %s: %w", rec.Name, err)
			}
			p.Filters = &entities.FilterSet{Native: native, Secondary: secondary}
		}
		out = append(out, p)
	}
	return out, nil
}

// BundleTables returns the number of distinct tables stored in data.
func BundleTables(data []byte) (int, error) {
	var doc bundleDoc
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decoding bundle: %w", err)
	}
	return len(doc.Tables), nil
}
