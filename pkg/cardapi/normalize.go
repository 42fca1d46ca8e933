package cardapi

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Sternrassler/cardclient/pkg/identifiers"
	"github.com/Sternrassler/cardclient/pkg/record"
)

// IdentifiersField holds a card's identifier list.
const IdentifiersField = "identifiers"

// Identifiers returns the identifiers listed on card.
func Identifiers(card record.Record) []identifiers.Identifier {
	return identifiers.Parse(card[IdentifiersField])
}

// NormalizeCard flattens card into a row: every named identifier scheme
// becomes a lower-cased column (blank when absent), mifare_id_hex is derived
// from a numeric mifare_id, and the identifier list itself is dropped. The
// card's own fields win over identifier columns.
func NormalizeCard(card record.Record) record.Record {
	ids := Identifiers(card)
	out := make(record.Record, len(card)+12)

	for _, scheme := range identifiers.Schemes() {
		name, _ := identifiers.NameForScheme(scheme)
		value, _ := identifiers.Find(ids, scheme)
		out[name] = strings.ToLower(value)
	}
	out["mifare_id_hex"] = mifareHex(out.String("mifare_id"))

	for k, v := range card {
		if k == IdentifiersField {
			continue
		}
		out[k] = v
	}
	return out
}

// mifareHex renders a non-negative decimal MIFARE id of any length as
// zero-padded lower-case hex.
func mifareHex(id string) string {
	if id == "" {
		return ""
	}
	n, ok := new(big.Int).SetString(id, 10)
	if !ok || n.Sign() < 0 {
		return ""
	}
	return fmt.Sprintf("%08x", n)
}

// IdentifierByScheme returns the card's identifier of scheme in canonical
// value@scheme form.
func IdentifierByScheme(card record.Record, scheme string) (string, bool) {
	value, ok := identifiers.Find(Identifiers(card), scheme)
	if !ok {
		return "", false
	}
	return identifiers.ToString(value, scheme), true
}
