package invariant

import (
	"encoding/binary"
	"math"
)

// Encode serializes inv into its canonical byte form. The field order is part of
// the wire contract shared with the callback side and must not change:
//
//	reference?, for each item: reference, name, quantity, unit, unit price, tax rate?,
//	amount, nonce?
//
// Strings are an unsigned LEB128 length followed by UTF-8 bytes, int32 values are
// 4 bytes little-endian and quantities are IEEE-754 float64, 8 bytes little-endian.
// Absent optional fields write nothing.
func Encode(inv Invariant) []byte {
	buf := make([]byte, 0, encodedSizeHint(inv))

	if inv.reference != nil {
		buf = appendString(buf, *inv.reference)
	}

	for _, item := range inv.orderItems {
		buf = appendString(buf, item.Reference)
		buf = appendString(buf, item.Name)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(item.Quantity))
		buf = appendString(buf, item.Unit)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(item.UnitPrice))
		if item.TaxRate != nil {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(*item.TaxRate))
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(inv.amount))

	if inv.nonce != nil {
		buf = appendString(buf, *inv.nonce)
	}

	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func encodedSizeHint(inv Invariant) int {
	n := 4
	if inv.reference != nil {
		n += len(*inv.reference) + binary.MaxVarintLen32
	}
	if inv.nonce != nil {
		n += len(*inv.nonce) + binary.MaxVarintLen32
	}
	for _, item := range inv.orderItems {
		n += len(item.Reference) + len(item.Name) + len(item.Unit) + 3*binary.MaxVarintLen32 + 16
	}
	return n
}
