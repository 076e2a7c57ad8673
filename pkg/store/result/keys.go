package result

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	TagCurrent = "CURRENT"
	TagHistory = "HISTORY"

	keySeparator = "#"

	// tsCeiling bounds the inverted-timestamp encoding. Unix seconds beyond
	// it (year 2286) or before the epoch cannot be encoded and are rejected
	// instead of silently truncated.
	tsCeiling = int64(9_999_999_999)
	tsWidth   = 10
)

// ErrMalformedKey classifies sort keys that do not match the
// TAG#checkId#scope[#resourceId | #invTs#runId] grammar. Parsers never fall
// back to a default on a bad key.
var ErrMalformedKey = errors.New("malformed result key")

// Key is the decoded form of a sort key. Tag selects the variant:
// CURRENT keys carry an optional ResourceID (per-item records), HISTORY
// keys carry the record timestamp and producing run id.
type Key struct {
	Tag        string
	CheckID    string
	Scope      string
	ResourceID string
	Timestamp  time.Time
	RunID      string
}

func (k Key) Item() bool    { return k.Tag == TagCurrent && k.ResourceID != "" }
func (k Key) History() bool { return k.Tag == TagHistory }

func validSegment(s string) bool {
	return s != "" && !strings.Contains(s, keySeparator)
}

// CurrentKey builds the sort key for the check-level latest-state record.
func CurrentKey(checkID, scope string) (string, error) {
	if !validSegment(checkID) || !validSegment(scope) {
		return "", fmt.Errorf("%w: bad segment in (%q, %q)", ErrMalformedKey, checkID, scope)
	}
	return strings.Join([]string{TagCurrent, checkID, scope}, keySeparator), nil
}

// ItemKey builds the sort key for a per-item latest-state record.
func ItemKey(checkID, scope, resourceID string) (string, error) {
	if !validSegment(checkID) || !validSegment(scope) || !validSegment(resourceID) {
		return "", fmt.Errorf("%w: bad segment in (%q, %q, %q)",
			ErrMalformedKey, checkID, scope, resourceID)
	}
	return strings.Join([]string{TagCurrent, checkID, scope, resourceID}, keySeparator), nil
}

// HistoryKey builds the sort key for an append-only history record. The
// timestamp segment is inverted (tsCeiling - unix) and zero-padded so a
// native ascending range scan returns newest records first.
func HistoryKey(checkID, scope string, ts time.Time, runID string) (string, error) {
	if !validSegment(checkID) || !validSegment(scope) || !validSegment(runID) {
		return "", fmt.Errorf("%w: bad segment in (%q, %q, %q)",
			ErrMalformedKey, checkID, scope, runID)
	}
	inv, err := invertTimestamp(ts)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{TagHistory, checkID, scope, inv, runID}, keySeparator), nil
}

// ItemPrefix is the range-scan prefix covering every item record of one
// (check, scope). The trailing separator excludes the check-level record.
func ItemPrefix(checkID, scope string) (string, error) {
	key, err := CurrentKey(checkID, scope)
	if err != nil {
		return "", err
	}
	return key + keySeparator, nil
}

// HistoryPrefix is the range-scan prefix covering every history record of
// one (check, scope), newest first under ascending order.
func HistoryPrefix(checkID, scope string) (string, error) {
	if !validSegment(checkID) || !validSegment(scope) {
		return "", fmt.Errorf("%w: bad segment in (%q, %q)", ErrMalformedKey, checkID, scope)
	}
	return TagHistory + keySeparator + checkID + keySeparator + scope + keySeparator, nil
}

// ParseKey decodes a sort key. It is the exact inverse of the builders and
// returns ErrMalformedKey for anything else.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, keySeparator)
	if len(parts) < 3 {
		return Key{}, fmt.Errorf("%w: %q has %d segments", ErrMalformedKey, raw, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Key{}, fmt.Errorf("%w: %q has an empty segment", ErrMalformedKey, raw)
		}
	}

	switch parts[0] {
	case TagCurrent:
		switch len(parts) {
		case 3:
			return Key{Tag: TagCurrent, CheckID: parts[1], Scope: parts[2]}, nil
		case 4:
			return Key{Tag: TagCurrent, CheckID: parts[1], Scope: parts[2], ResourceID: parts[3]}, nil
		default:
			return Key{}, fmt.Errorf("%w: CURRENT key %q has %d segments", ErrMalformedKey, raw, len(parts))
		}
	case TagHistory:
		if len(parts) != 5 {
			return Key{}, fmt.Errorf("%w: HISTORY key %q has %d segments", ErrMalformedKey, raw, len(parts))
		}
		ts, err := parseInvertedTimestamp(parts[3])
		if err != nil {
			return Key{}, fmt.Errorf("%w: HISTORY key %q: %v", ErrMalformedKey, raw, err)
		}
		return Key{
			Tag:       TagHistory,
			CheckID:   parts[1],
			Scope:     parts[2],
			Timestamp: ts,
			RunID:     parts[4],
		}, nil
	default:
		return Key{}, fmt.Errorf("%w: unknown tag %q", ErrMalformedKey, parts[0])
	}
}

func invertTimestamp(ts time.Time) (string, error) {
	unix := ts.Unix()
	if unix < 0 || unix > tsCeiling {
		return "", fmt.Errorf("%w: timestamp %d outside encodable range [0, %d]",
			ErrMalformedKey, unix, tsCeiling)
	}
	inv := strconv.FormatInt(tsCeiling-unix, 10)
	if pad := tsWidth - len(inv); pad > 0 {
		inv = strings.Repeat("0", pad) + inv
	}
	if len(inv) != tsWidth {
		return "", fmt.Errorf("%w: inverted timestamp %q is not %d digits", ErrMalformedKey, inv, tsWidth)
	}
	return inv, nil
}

func parseInvertedTimestamp(seg string) (time.Time, error) {
	if len(seg) != tsWidth {
		return time.Time{}, fmt.Errorf("timestamp segment %q is not %d digits", seg, tsWidth)
	}
	// ParseInt alone would admit sign prefixes, which no builder emits.
	for _, r := range seg {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("timestamp segment %q is not numeric", seg)
		}
	}
	inv, err := strconv.ParseInt(seg, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp segment %q is not numeric", seg)
	}
	if inv < 0 || inv > tsCeiling {
		return time.Time{}, fmt.Errorf("timestamp segment %q outside encodable range", seg)
	}
	return time.Unix(tsCeiling-inv, 0).UTC(), nil
}
