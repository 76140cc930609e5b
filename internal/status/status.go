// Package status defines the two-value status domains used by the tracker
// and the toggle rule between them. Toggling is the only legal mutation of a
// status field; arbitrary writes are rejected.
package status

import "fmt"

// Domain is a closed two-value status axis.
type Domain struct {
	A string
	B string
}

// The two pack axes. Loading-day screens move packs between floor and truck;
// standing-inventory screens move them between warehouse and out.
var (
	LoadDay   = Domain{A: "FLOOR", B: "TRUCK"}
	Inventory = Domain{A: "WAREHOUSE", B: "OUT"}
)

// Contains reports whether v is one of the domain's two legal values.
func (d Domain) Contains(v string) bool {
	return v == d.A || v == d.B
}

// Toggle maps a status to the other value of its domain. A value outside the
// domain is an error, not a silent default: it means the store holds a
// record from the wrong axis.
func (d Domain) Toggle(v string) (string, error) {
	switch v {
	case d.A:
		return d.B, nil
	case d.B:
		return d.A, nil
	default:
		return "", fmt.Errorf("status %q is not in domain {%s, %s}", v, d.A, d.B)
	}
}
