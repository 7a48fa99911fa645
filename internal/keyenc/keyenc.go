// Package keyenc implements the deterministic, lexicographically-sortable
// text encoding of scalar values and the composite key assembly rules for
// unique and query nodes (SPEC_FULL.md §4.1).
package keyenc

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Separator used between sort-key components.
const Separator = "##"

const (
	intWidth      = 20
	floatIntWidth = 10
	floatFracW    = 10
)

// tenPowInt and tenPowFloat are the 10^width complements used to flip
// ordering for negative numbers, per original_source/immaterialdb/value_serializers.py.
var (
	tenPowInt   = pow10(intWidth)
	tenPowFloat = pow10(floatIntWidth)
	tenPowFrac  = pow10(floatFracW)
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Enum is implemented by user enum types to provide their canonical string.
type Enum interface {
	EnumValue() string
}

// Encode renders v as its index text form. lexicographic controls whether
// numeric types are encoded for sortability (true) or as their plain
// decimal text (false, used for unique-key equality components).
//
// Unsupported types fall back to fmt.Sprintf("%v", v) and log a warning via
// the supplied logger (may be nil, in which case the fallback is silent).
func Encode(v any, lexicographic bool, log *zap.Logger) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case nil:
		return "null", nil
	case int:
		return encodeInt(int64(t), lexicographic), nil
	case int8:
		return encodeInt(int64(t), lexicographic), nil
	case int16:
		return encodeInt(int64(t), lexicographic), nil
	case int32:
		return encodeInt(int64(t), lexicographic), nil
	case int64:
		return encodeInt(t, lexicographic), nil
	case uint:
		return encodeInt(int64(t), lexicographic), nil
	case uint8:
		return encodeInt(int64(t), lexicographic), nil
	case uint16:
		return encodeInt(int64(t), lexicographic), nil
	case uint32:
		return encodeInt(int64(t), lexicographic), nil
	case uint64:
		return encodeInt(int64(t), lexicographic), nil
	case float32:
		return encodeFloat(float64(t), lexicographic), nil
	case float64:
		return encodeFloat(t, lexicographic), nil
	case *big.Rat:
		return encodeDecimal(t, lexicographic), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case uuid.UUID:
		return t.String(), nil
	case Enum:
		return t.EnumValue(), nil
	default:
		if log != nil {
			log.Warn("value type not natively supported for index serialization; falling back to text form",
				zap.String("go_type", fmt.Sprintf("%T", v)))
		}
		return fmt.Sprintf("%v", v), nil
	}
}

func encodeInt(n int64, lexicographic bool) string {
	if !lexicographic {
		return strconv.FormatInt(n, 10)
	}
	if n < 0 {
		mag := new(big.Int).Sub(tenPowInt, big.NewInt(-n))
		return "0" + zeroPad(mag.String(), intWidth)
	}
	return "1" + zeroPad(strconv.FormatInt(n, 10), intWidth)
}

func encodeFloat(f float64, lexicographic bool) string {
	if !lexicographic {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	sign := "1"
	if f < 0 {
		sign = "0"
		f = -f
	}
	text := strconv.FormatFloat(f, 'f', floatFracW, 64)
	parts := strings.SplitN(text, ".", 2)
	intPart, fracPart := parts[0], parts[1]

	if sign == "0" {
		// Complement the whole magnitude (int and frac digits together) so
		// the result stays fixed-width and more-negative values sort first.
		intBig, _ := new(big.Int).SetString(intPart, 10)
		fracBig, _ := new(big.Int).SetString(fracPart, 10)
		mag := new(big.Int).Add(new(big.Int).Mul(intBig, tenPowFrac), fracBig)
		comp := new(big.Int).Sub(new(big.Int).Mul(tenPowFloat, tenPowFrac), mag)
		q, r := new(big.Int).QuoRem(comp, tenPowFrac, new(big.Int))
		intPart = zeroPad(q.String(), floatIntWidth)
		fracPart = zeroPad(r.String(), floatFracW)
	} else {
		intPart = zeroPad(intPart, floatIntWidth)
		fracPart = rightPad(fracPart, floatFracW)
	}
	return sign + intPart + "." + fracPart
}

func encodeDecimal(d *big.Rat, lexicographic bool) string {
	if !lexicographic {
		return d.FloatString(floatFracW)
	}
	sign := "1"
	neg := d.Sign() < 0
	abs := new(big.Rat).Abs(d)
	if neg {
		sign = "0"
	}
	text := abs.FloatString(intWidth) // wide enough fractional digits; width matches original's frac_width=int_width for Decimal
	parts := strings.SplitN(text, ".", 2)
	intPart, fracPart := parts[0], parts[1]
	if len(fracPart) > intWidth {
		fracPart = fracPart[:intWidth]
	}

	if neg {
		intBig, _ := new(big.Int).SetString(intPart, 10)
		fracBig, _ := new(big.Int).SetString(fracPart, 10)
		mag := new(big.Int).Add(new(big.Int).Mul(intBig, tenPowInt), fracBig)
		comp := new(big.Int).Sub(new(big.Int).Mul(tenPowInt, tenPowInt), mag)
		q, r := new(big.Int).QuoRem(comp, tenPowInt, new(big.Int))
		intPart = zeroPad(q.String(), intWidth)
		fracPart = zeroPad(r.String(), intWidth)
	} else {
		intPart = zeroPad(intPart, intWidth)
		fracPart = rightPad(fracPart, intWidth)
	}
	return sign + intPart + "." + fracPart
}

func zeroPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

func rightPad(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat("0", width-len(s))
}

// NamedField is a (name, value) pair as consumed by the composite key
// builders below.
type NamedField struct {
	Name  string
	Value any
}

// UniqueKey builds the (pk, sk) pair for a UniqueNode: pk =
// "Entity(name1=v1,name2=v2,...)", sk = "unique".
func UniqueKey(entity string, fields []NamedField, log *zap.Logger) (pk, sk string, err error) {
	parts := make([]string, len(fields))
	for i, f := range fields {
		enc, err := Encode(f.Value, false, log)
		if err != nil {
			return "", "", err
		}
		parts[i] = f.Name + "=" + enc
	}
	return fmt.Sprintf("%s(%s)", entity, strings.Join(parts, ",")), "unique", nil
}

// QueryPartitionKey builds the query-node partition key: pk =
// "Entity[p1=v1,p2=v2][sortName1,sortName2]". sortFieldNames must be the
// full ordered list of the index's declared sort fields (not just the ones
// present in a given query), so two indices sharing partition fields but
// differing sort fields never collide.
func QueryPartitionKey(entity string, partitionFields []NamedField, sortFieldNames []string, log *zap.Logger) (string, error) {
	parts := make([]string, len(partitionFields))
	for i, f := range partitionFields {
		enc, err := Encode(f.Value, false, log)
		if err != nil {
			return "", err
		}
		parts[i] = f.Name + "=" + enc
	}
	return fmt.Sprintf("%s[%s][%s]", entity, strings.Join(parts, ","), strings.Join(sortFieldNames, ",")), nil
}

// QuerySortKeyPrefix builds the (possibly partial) sort-key prefix:
// SEP || lex(v1) || SEP || lex(v2) || ... for the given (equality) sort
// field values, without a trailing record-id suffix.
func QuerySortKeyPrefix(sortFields []NamedField, log *zap.Logger) (string, error) {
	var b strings.Builder
	for _, f := range sortFields {
		enc, err := Encode(f.Value, true, log)
		if err != nil {
			return "", err
		}
		b.WriteString(Separator)
		b.WriteString(enc)
	}
	return b.String(), nil
}

// QuerySortKey builds the full sort key for a QueryNode row:
// QuerySortKeyPrefix(sortFields) || SEP || recordID.
func QuerySortKey(sortFields []NamedField, recordID string, log *zap.Logger) (string, error) {
	prefix, err := QuerySortKeyPrefix(sortFields, log)
	if err != nil {
		return "", err
	}
	return prefix + Separator + recordID, nil
}

// QueryKey builds the full (pk, sk) pair for a QueryNode.
func QueryKey(entity, recordID string, partitionFields, sortFields []NamedField, sortFieldNames []string, log *zap.Logger) (pk, sk string, err error) {
	pk, err = QueryPartitionKey(entity, partitionFields, sortFieldNames, log)
	if err != nil {
		return "", "", err
	}
	sk, err = QuerySortKey(sortFields, recordID, log)
	if err != nil {
		return "", "", err
	}
	return pk, sk, nil
}
