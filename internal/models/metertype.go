package models

// MeterType classifies a meter. The set is closed; the wire format and the
// local schema both store the raw string.
type MeterType string

const (
	MeterWater       MeterType = "water"
	MeterElectricity MeterType = "electricity"
	MeterGas         MeterType = "gas"
)

// AllMeterTypes lists every valid meter type in display order.
func AllMeterTypes() []MeterType {
	return []MeterType{MeterWater, MeterElectricity, MeterGas}
}

// Valid reports whether t is one of the known meter types.
func (t MeterType) Valid() bool {
	switch t {
	case MeterWater, MeterElectricity, MeterGas:
		return true
	}
	return false
}

// Unit returns the measurement unit readings of this meter type are
// recorded in, for display purposes.
func (t MeterType) Unit() string {
	switch t {
	case MeterElectricity:
		return "kWh"
	case MeterWater, MeterGas:
		return "m3"
	}
	return ""
}
