package docstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/okvist/granary/table"
)

// Key layout. Every component is escaped so the separator byte can
// never be forged by user data:
//
//	main:  esc(table) SEP 'm' SEP tag+enc(pk) [SEP tag+enc(sk)]
//	index: esc(table) SEP 'i' esc(index) SEP tag+enc(ipk) [SEP tag+enc(isk)] SEP tag+enc(pk) [SEP tag+enc(sk)]
//
// Index entries append the main-table key components, because index key
// values are not unique across items. S and B values are escaped byte
// strings; N values are 9 fixed bytes encoded so byte order equals
// numeric order. The tag byte carries the kind, which makes decoding
// the exact inverse of encoding.
const (
	keySeparator byte = 0x00

	subspaceMain  byte = 'm'
	subspaceIndex byte = 'i'

	keyTagString byte = 'S'
	keyTagNumber byte = 'N'
	keyTagBinary byte = 'B'
)

// keyCodec encodes keys of one table or index subspace.
type keyCodec struct {
	table string
	index string
	keys  table.PrimaryKeyDefinition
}

func newKeyCodec(tableName string, keys table.PrimaryKeyDefinition) *keyCodec {
	return &keyCodec{table: tableName, keys: keys}
}

func newIndexKeyCodec(tableName, indexName string, keys table.PrimaryKeyDefinition) *keyCodec {
	return &keyCodec{table: tableName, index: indexName, keys: keys}
}

// subspacePrefix is the prefix shared by every key of this codec.
func (c *keyCodec) subspacePrefix() []byte {
	var buf bytes.Buffer
	buf.Write(escapeBytes([]byte(c.table)))
	buf.WriteByte(keySeparator)
	if c.index == "" {
		buf.WriteByte(subspaceMain)
	} else {
		buf.WriteByte(subspaceIndex)
		buf.Write(escapeBytes([]byte(c.index)))
	}
	buf.WriteByte(keySeparator)
	return buf.Bytes()
}

// encodeKey renders a full primary key.
func (c *keyCodec) encodeKey(pk table.PrimaryKey) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(c.subspacePrefix())
	pkBytes, err := encodeKeyValue(pk.Values.Partition, pk.Definition.PartitionKey.Kind)
	if err != nil {
		return nil, fmt.Errorf("encode partition key: %w", err)
	}
	buf.Write(pkBytes)
	if pk.Definition.HasSortKey() {
		if pk.Values.Sort == nil {
			return nil, fmt.Errorf("sort key %q is required", pk.Definition.SortKey.Name)
		}
		skBytes, err := encodeKeyValue(pk.Values.Sort, pk.Definition.SortKey.Kind)
		if err != nil {
			return nil, fmt.Errorf("encode sort key: %w", err)
		}
		buf.WriteByte(keySeparator)
		buf.Write(skBytes)
	}
	return buf.Bytes(), nil
}

// partitionPrefix is the prefix of every key in one partition. The
// trailing separator keeps partition "ab" from matching "abc"; it is
// present whenever further components follow, which for index entries
// is always the case.
func (c *keyCodec) partitionPrefix(partition types.AttributeValue) ([]byte, error) {
	value, err := keyValueOf(partition)
	if err != nil {
		return nil, err
	}
	pkBytes, err := encodeKeyValue(value, c.keys.PartitionKey.Kind)
	if err != nil {
		return nil, fmt.Errorf("encode partition key: %w", err)
	}
	out := append(c.subspacePrefix(), pkBytes...)
	if c.keys.HasSortKey() || c.index != "" {
		out = append(out, keySeparator)
	}
	return out, nil
}

// exactPrefix is the prefix of index entries whose index key equals
// (partition, sort). The appended main key makes an exact index match a
// range of entries rather than a single key.
func (c *keyCodec) exactPrefix(partition, sort types.AttributeValue) ([]byte, error) {
	base, err := c.partitionPrefix(partition)
	if err != nil {
		return nil, err
	}
	value, err := keyValueOf(sort)
	if err != nil {
		return nil, err
	}
	skBytes, err := encodeKeyValue(value, c.keys.SortKey.Kind)
	if err != nil {
		return nil, fmt.Errorf("encode sort key: %w", err)
	}
	base = append(base, skBytes...)
	return append(base, keySeparator), nil
}

// encodeIndexEntry renders the storage key of one index entry: the
// index key followed by the main-table key of the indexed item.
func (c *keyCodec) encodeIndexEntry(indexKey, mainKey table.PrimaryKey) ([]byte, error) {
	buf, err := c.encodeKey(indexKey)
	if err != nil {
		return nil, err
	}
	buf = append(buf, keySeparator)
	pkBytes, err := encodeKeyValue(mainKey.Values.Partition, mainKey.Definition.PartitionKey.Kind)
	if err != nil {
		return nil, fmt.Errorf("encode main partition key: %w", err)
	}
	buf = append(buf, pkBytes...)
	if mainKey.Definition.HasSortKey() {
		skBytes, err := encodeKeyValue(mainKey.Values.Sort, mainKey.Definition.SortKey.Kind)
		if err != nil {
			return nil, fmt.Errorf("encode main sort key: %w", err)
		}
		buf = append(buf, keySeparator)
		buf = append(buf, skBytes...)
	}
	return buf, nil
}

// sortPrefix is the prefix of keys in one partition whose string sort
// key begins with prefix. No trailing framing: longer sort keys that
// extend the prefix still match.
func (c *keyCodec) sortPrefix(partition types.AttributeValue, prefix string) ([]byte, error) {
	if c.keys.SortKey.Kind != table.KeyKindS {
		return nil, fmt.Errorf("sort key %q is not a string", c.keys.SortKey.Name)
	}
	base, err := c.partitionPrefix(partition)
	if err != nil {
		return nil, err
	}
	base = append(base, keyTagString)
	return append(base, escapeBytes([]byte(prefix))...), nil
}

// decodeKey is the exact inverse of encodeKey.
func (c *keyCodec) decodeKey(raw []byte) (table.PrimaryKey, error) {
	pk, rest, err := c.decodeOwnKey(raw)
	if err != nil {
		return table.PrimaryKey{}, err
	}
	if len(rest) != 0 {
		return table.PrimaryKey{}, fmt.Errorf("trailing bytes after key")
	}
	return pk, nil
}

// decodeIndexEntry is the exact inverse of encodeIndexEntry: it splits
// an index entry back into the index key and the main-table key.
func (c *keyCodec) decodeIndexEntry(raw []byte, mainKeys table.PrimaryKeyDefinition) (indexKey, mainKey table.PrimaryKey, err error) {
	indexKey, rest, err := c.decodeOwnKey(raw)
	if err != nil {
		return table.PrimaryKey{}, table.PrimaryKey{}, err
	}
	if len(rest) == 0 || rest[0] != keySeparator {
		return table.PrimaryKey{}, table.PrimaryKey{}, fmt.Errorf("index entry is missing the main-table key")
	}
	partition, rest, err := readKeyValue(rest[1:], mainKeys.PartitionKey.Kind)
	if err != nil {
		return table.PrimaryKey{}, table.PrimaryKey{}, fmt.Errorf("decode main partition key: %w", err)
	}
	mainKey = table.PrimaryKey{Definition: mainKeys, Values: table.KeyValues{Partition: partition}}
	if mainKeys.HasSortKey() {
		if len(rest) == 0 || rest[0] != keySeparator {
			return table.PrimaryKey{}, table.PrimaryKey{}, fmt.Errorf("index entry is missing the main sort key")
		}
		var sort any
		sort, rest, err = readKeyValue(rest[1:], mainKeys.SortKey.Kind)
		if err != nil {
			return table.PrimaryKey{}, table.PrimaryKey{}, fmt.Errorf("decode main sort key: %w", err)
		}
		mainKey.Values.Sort = sort
	}
	if len(rest) != 0 {
		return table.PrimaryKey{}, table.PrimaryKey{}, fmt.Errorf("trailing bytes after index entry")
	}
	return indexKey, mainKey, nil
}

// decodeOwnKey parses the subspace header and this codec's own key
// components, returning whatever bytes follow them.
func (c *keyCodec) decodeOwnKey(raw []byte) (table.PrimaryKey, []byte, error) {
	rest := raw
	tableName, rest, err := readEscaped(rest)
	if err != nil {
		return table.PrimaryKey{}, nil, fmt.Errorf("decode table component: %w", err)
	}
	if string(tableName) != c.table {
		return table.PrimaryKey{}, nil, fmt.Errorf("key belongs to table %q, codec is for %q", tableName, c.table)
	}
	if len(rest) == 0 {
		return table.PrimaryKey{}, nil, fmt.Errorf("truncated key: missing subspace")
	}
	switch rest[0] {
	case subspaceMain:
		if c.index != "" {
			return table.PrimaryKey{}, nil, fmt.Errorf("main-table key decoded with index codec")
		}
		rest = rest[1:]
		if len(rest) == 0 || rest[0] != keySeparator {
			return table.PrimaryKey{}, nil, fmt.Errorf("malformed key: missing separator after subspace")
		}
		rest = rest[1:]
	case subspaceIndex:
		indexName, r, err := readEscaped(rest[1:])
		if err != nil {
			return table.PrimaryKey{}, nil, fmt.Errorf("decode index component: %w", err)
		}
		if string(indexName) != c.index {
			return table.PrimaryKey{}, nil, fmt.Errorf("key belongs to index %q, codec is for %q", indexName, c.index)
		}
		rest = r
	default:
		return table.PrimaryKey{}, nil, fmt.Errorf("unknown key subspace 0x%02x", rest[0])
	}
	partition, rest, err := readKeyValue(rest, c.keys.PartitionKey.Kind)
	if err != nil {
		return table.PrimaryKey{}, nil, fmt.Errorf("decode partition key: %w", err)
	}
	pk := table.PrimaryKey{Definition: c.keys, Values: table.KeyValues{Partition: partition}}
	if !c.keys.HasSortKey() {
		return pk, rest, nil
	}
	if len(rest) == 0 || rest[0] != keySeparator {
		return table.PrimaryKey{}, nil, fmt.Errorf("truncated key: missing sort key")
	}
	sort, rest, err := readKeyValue(rest[1:], c.keys.SortKey.Kind)
	if err != nil {
		return table.PrimaryKey{}, nil, fmt.Errorf("decode sort key: %w", err)
	}
	pk.Values.Sort = sort
	return pk, rest, nil
}

// encodeKeyValue renders one key component: a kind tag byte followed by
// the order-preserving encoding of the value.
func encodeKeyValue(value any, kind table.KeyKind) ([]byte, error) {
	var buf bytes.Buffer
	switch kind {
	case table.KeyKindS:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for S key, got %T", value)
		}
		buf.WriteByte(keyTagString)
		buf.Write(escapeBytes([]byte(s)))
	case table.KeyKindN:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected numeric string for N key, got %T", value)
		}
		encoded, err := encodeNumber(s)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(keyTagNumber)
		buf.Write(encoded)
	case table.KeyKindB:
		b, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected []byte for B key, got %T", value)
		}
		buf.WriteByte(keyTagBinary)
		buf.Write(escapeBytes(b))
	default:
		return nil, fmt.Errorf("unsupported key kind %q", kind)
	}
	return buf.Bytes(), nil
}

// readKeyValue consumes one tagged key component and returns the
// decoded value plus the remaining bytes.
func readKeyValue(b []byte, kind table.KeyKind) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("empty key component")
	}
	tag, body := b[0], b[1:]
	switch tag {
	case keyTagString:
		if kind != table.KeyKindS {
			return nil, nil, fmt.Errorf("key tag %q does not match schema kind %q", tag, kind)
		}
		value, rest, err := readEscapedComponent(body)
		if err != nil {
			return nil, nil, err
		}
		return string(value), rest, nil
	case keyTagBinary:
		if kind != table.KeyKindB {
			return nil, nil, fmt.Errorf("key tag %q does not match schema kind %q", tag, kind)
		}
		value, rest, err := readEscapedComponent(body)
		if err != nil {
			return nil, nil, err
		}
		return value, rest, nil
	case keyTagNumber:
		if kind != table.KeyKindN {
			return nil, nil, fmt.Errorf("key tag %q does not match schema kind %q", tag, kind)
		}
		if len(body) < 9 {
			return nil, nil, fmt.Errorf("truncated number component")
		}
		value, err := decodeNumber(body[:9])
		if err != nil {
			return nil, nil, err
		}
		return value, body[9:], nil
	}
	return nil, nil, fmt.Errorf("unknown key tag 0x%02x", tag)
}

// encodeNumber encodes a decimal string so lexicographic byte order
// matches numeric order: a sign byte, then the big-endian float64 bits
// with the sign bit flipped for non-negatives and all bits inverted for
// negatives.
func encodeNumber(numStr string) ([]byte, error) {
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", numStr, err)
	}
	bits := math.Float64bits(f)
	buf := make([]byte, 9)
	if f >= 0 {
		buf[0] = 0x80
		bits ^= 1 << 63
	} else {
		buf[0] = 0x7F
		bits = ^bits
	}
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf, nil
}

func decodeNumber(encoded []byte) (string, error) {
	if len(encoded) != 9 {
		return "", fmt.Errorf("invalid encoded number length %d", len(encoded))
	}
	bits := binary.BigEndian.Uint64(encoded[1:])
	switch encoded[0] {
	case 0x80:
		bits ^= 1 << 63
	case 0x7F:
		bits = ^bits
	default:
		return "", fmt.Errorf("invalid number sign byte 0x%02x", encoded[0])
	}
	return strconv.FormatFloat(math.Float64frombits(bits), 'f', -1, 64), nil
}

// escapeBytes rewrites 0x00 to 0x01 0x01 and 0x01 to 0x01 0x02, so an
// escaped component never contains the separator.
func escapeBytes(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case 0x00:
			out = append(out, 0x01, 0x01)
		case 0x01:
			out = append(out, 0x01, 0x02)
		default:
			out = append(out, c)
		}
	}
	return out
}

// readEscaped consumes an escaped component up to and including its
// terminating separator.
func readEscaped(b []byte) (value, rest []byte, err error) {
	value, rest, err = readEscapedComponent(b)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) == 0 || rest[0] != keySeparator {
		return nil, nil, fmt.Errorf("component is not separator-terminated")
	}
	return value, rest[1:], nil
}

// readEscapedComponent unescapes bytes until the next separator or the
// end of input. Malformed escapes are rejected.
func readEscapedComponent(b []byte) (value, rest []byte, err error) {
	out := make([]byte, 0, len(b))
	i := 0
	for i < len(b) && b[i] != keySeparator {
		if b[i] != 0x01 {
			out = append(out, b[i])
			i++
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, fmt.Errorf("dangling escape byte")
		}
		switch b[i+1] {
		case 0x01:
			out = append(out, 0x00)
		case 0x02:
			out = append(out, 0x01)
		default:
			return nil, nil, fmt.Errorf("invalid escape sequence 0x01 0x%02x", b[i+1])
		}
		i += 2
	}
	return out, b[i:], nil
}

// keyValueOf extracts the raw key value from an attribute.
func keyValueOf(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	case *types.AttributeValueMemberB:
		return v.Value, nil
	}
	return nil, fmt.Errorf("attribute type %T cannot be a key", av)
}

// Item values are stored as tagged JSON documents. The tag makes
// decoding unambiguous for every member type, including empty lists
// and maps, and keeps store files inspectable.
type storedValue struct {
	Type string                 `json:"t"`
	S    string                 `json:"s,omitempty"`
	N    string                 `json:"n,omitempty"`
	B    []byte                 `json:"b,omitempty"`
	Bool bool                   `json:"bool,omitempty"`
	SS   []string               `json:"ss,omitempty"`
	NS   []string               `json:"ns,omitempty"`
	BS   [][]byte               `json:"bs,omitempty"`
	M    map[string]storedValue `json:"m,omitempty"`
	L    []storedValue          `json:"l,omitempty"`
}

func encodeItem(item map[string]types.AttributeValue) ([]byte, error) {
	stored := make(map[string]storedValue, len(item))
	for k, v := range item {
		sv, err := toStoredValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		stored[k] = sv
	}
	return json.Marshal(stored)
}

func decodeItem(data []byte) (map[string]types.AttributeValue, error) {
	var stored map[string]storedValue
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	item := make(map[string]types.AttributeValue, len(stored))
	for k, v := range stored {
		av, err := fromStoredValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		item[k] = av
	}
	return item, nil
}

func toStoredValue(av types.AttributeValue) (storedValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return storedValue{Type: "S", S: v.Value}, nil
	case *types.AttributeValueMemberN:
		return storedValue{Type: "N", N: v.Value}, nil
	case *types.AttributeValueMemberB:
		return storedValue{Type: "B", B: v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return storedValue{Type: "BOOL", Bool: v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return storedValue{Type: "NULL"}, nil
	case *types.AttributeValueMemberSS:
		return storedValue{Type: "SS", SS: v.Value}, nil
	case *types.AttributeValueMemberNS:
		return storedValue{Type: "NS", NS: v.Value}, nil
	case *types.AttributeValueMemberBS:
		return storedValue{Type: "BS", BS: v.Value}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]storedValue, len(v.Value))
		for k, val := range v.Value {
			sv, err := toStoredValue(val)
			if err != nil {
				return storedValue{}, err
			}
			m[k] = sv
		}
		return storedValue{Type: "M", M: m}, nil
	case *types.AttributeValueMemberL:
		l := make([]storedValue, len(v.Value))
		for i, val := range v.Value {
			sv, err := toStoredValue(val)
			if err != nil {
				return storedValue{}, err
			}
			l[i] = sv
		}
		return storedValue{Type: "L", L: l}, nil
	}
	return storedValue{}, fmt.Errorf("unsupported attribute value type %T", av)
}

func fromStoredValue(sv storedValue) (types.AttributeValue, error) {
	switch sv.Type {
	case "S":
		return &types.AttributeValueMemberS{Value: sv.S}, nil
	case "N":
		return &types.AttributeValueMemberN{Value: sv.N}, nil
	case "B":
		return &types.AttributeValueMemberB{Value: sv.B}, nil
	case "BOOL":
		return &types.AttributeValueMemberBOOL{Value: sv.Bool}, nil
	case "NULL":
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case "SS":
		return &types.AttributeValueMemberSS{Value: sv.SS}, nil
	case "NS":
		return &types.AttributeValueMemberNS{Value: sv.NS}, nil
	case "BS":
		return &types.AttributeValueMemberBS{Value: sv.BS}, nil
	case "M":
		m := make(map[string]types.AttributeValue, len(sv.M))
		for k, val := range sv.M {
			av, err := fromStoredValue(val)
			if err != nil {
				return nil, err
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case "L":
		l := make([]types.AttributeValue, len(sv.L))
		for i, val := range sv.L {
			av, err := fromStoredValue(val)
			if err != nil {
				return nil, err
			}
			l[i] = av
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	}
	return nil, fmt.Errorf("unknown stored value type %q", sv.Type)
}
