// Package avutil compares and converts attribute values for the
// expression languages and the store's index maintenance.
package avutil

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/exp/constraints"
)

// Equal reports deep equality of two attribute values. Values of
// different member types are unequal, never an error. N values compare
// numerically, sets compare order-insensitively.
func Equal(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && numberEqual(av.Value, bv.Value)
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(av.Value, bv.Value)
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		return ok
	case *types.AttributeValueMemberSS:
		bv, ok := b.(*types.AttributeValueMemberSS)
		return ok && stringSetEqual(av.Value, bv.Value)
	case *types.AttributeValueMemberNS:
		bv, ok := b.(*types.AttributeValueMemberNS)
		return ok && numberSetEqual(av.Value, bv.Value)
	case *types.AttributeValueMemberBS:
		bv, ok := b.(*types.AttributeValueMemberBS)
		return ok && binarySetEqual(av.Value, bv.Value)
	case *types.AttributeValueMemberM:
		bv, ok := b.(*types.AttributeValueMemberM)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for k, v := range av.Value {
			w, ok := bv.Value[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberL:
		bv, ok := b.(*types.AttributeValueMemberL)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for i := range av.Value {
			if !Equal(av.Value[i], bv.Value[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values of the same scalar type: N numerically, S
// lexicographically, B bytewise. Any other pairing cannot be ordered.
func Compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, fmt.Errorf("cannot order N against %s", memberName(b))
		}
		an, err := parseNumber(av.Value)
		if err != nil {
			return 0, err
		}
		bn, err := parseNumber(bv.Value)
		if err != nil {
			return 0, err
		}
		switch {
		case an < bn:
			return -1, nil
		case an > bn:
			return 1, nil
		}
		return 0, nil
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, fmt.Errorf("cannot order S against %s", memberName(b))
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, fmt.Errorf("cannot order B against %s", memberName(b))
		}
		return bytes.Compare(av.Value, bv.Value), nil
	}
	return 0, fmt.Errorf("type %s cannot be ordered", memberName(a))
}

// Number extracts an N attribute as float64.
func Number(av types.AttributeValue) (float64, error) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("expected a number attribute, got %s", memberName(av))
	}
	return parseNumber(n.Value)
}

// NumberAttr renders a native numeric as an N attribute in canonical
// decimal form.
func NumberAttr[T constraints.Integer | constraints.Float](v T) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(float64(v), 'f', -1, 64)}
}

func parseNumber(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed number attribute %q", s)
	}
	return f, nil
}

func numberEqual(a, b string) bool {
	an, aerr := strconv.ParseFloat(a, 64)
	bn, berr := strconv.ParseFloat(b, 64)
	if aerr != nil || berr != nil {
		return a == b
	}
	return an == bn
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func numberSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	byNumber := func(vals []string) func(i, j int) bool {
		return func(i, j int) bool {
			vi, _ := strconv.ParseFloat(vals[i], 64)
			vj, _ := strconv.ParseFloat(vals[j], 64)
			return vi < vj
		}
	}
	sort.Slice(as, byNumber(as))
	sort.Slice(bs, byNumber(bs))
	for i := range as {
		if !numberEqual(as[i], bs[i]) {
			return false
		}
	}
	return true
}

func binarySetEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([][]byte(nil), a...)
	bs := append([][]byte(nil), b...)
	sort.Slice(as, func(i, j int) bool { return bytes.Compare(as[i], as[j]) < 0 })
	sort.Slice(bs, func(i, j int) bool { return bytes.Compare(bs[i], bs[j]) < 0 })
	for i := range as {
		if !bytes.Equal(as[i], bs[i]) {
			return false
		}
	}
	return true
}

func memberName(av types.AttributeValue) string {
	switch av.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case *types.AttributeValueMemberM:
		return "M"
	case *types.AttributeValueMemberL:
		return "L"
	case nil:
		return "absent"
	}
	return fmt.Sprintf("%T", av)
}
