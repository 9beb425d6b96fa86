package aforo

import "strings"

// ClassPedestrian is the canonical pedestrian label. Every other
// canonical class is treated as a vehicle.
const ClassPedestrian = "pedestrian"

// CanonicalClass collapses raw detector labels into the canonical class
// vocabulary: truck subtypes fold into "truck", the person aliases fold
// into "pedestrian", everything else is lowercased as-is.
func CanonicalClass(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(c, "truck_") || c == "truck" {
		return "truck"
	}
	switch c {
	case "person", "pedestrian", "peaton", "peatón":
		return ClassPedestrian
	}
	return c
}

// IsPedestrian reports whether the canonical class is a pedestrian.
func IsPedestrian(class string) bool {
	return CanonicalClass(class) == ClassPedestrian
}
