package codec

import (
	"fmt"
)

// KeyType prefixes every key written by the partitioned backend.
type KeyType byte

const (
	KeyTypeDocument KeyType = 'd'
	KeyTypeID       KeyType = 'i'
)

// EncodeDocumentKey builds d|epk|rid. Keys of one partition key range
// [min, max) are the contiguous span DocumentRangeBounds(min, max).
func EncodeDocumentKey(epk, rid string) []byte {
	buf := []byte{byte(KeyTypeDocument)}
	buf = appendMemComparableString(buf, epk)
	return appendMemComparableString(buf, rid)
}

// DecodeDocumentKey splits a document key into its effective partition key and rid.
func DecodeDocumentKey(key []byte) (epk, rid string, err error) {
	if len(key) == 0 || KeyType(key[0]) != KeyTypeDocument {
		return "", "", fmt.Errorf("codec: not a document key")
	}
	epk, n, err := readMemComparableString(key[1:])
	if err != nil {
		return "", "", err
	}
	rid, _, err = readMemComparableString(key[1+n:])
	if err != nil {
		return "", "", err
	}
	return epk, rid, nil
}

// DocumentRangeBounds returns the [lower, upper) key bounds of the documents
// whose effective partition key falls in [min, max). Effective partition
// keys never contain 0x00, so the unterminated prefix of min sorts before
// every key with epk >= min and the prefix of max after every key with epk < max.
func DocumentRangeBounds(min, max string) (lower, upper []byte) {
	lower = append([]byte{byte(KeyTypeDocument)}, min...)
	upper = append([]byte{byte(KeyTypeDocument)}, max...)
	return lower, upper
}

// EncodeIDKey builds i|epk|id, the lookup from a document id to its rid.
func EncodeIDKey(epk, id string) []byte {
	buf := []byte{byte(KeyTypeID)}
	buf = appendMemComparableString(buf, epk)
	return appendMemComparableString(buf, id)
}
