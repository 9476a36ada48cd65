package jedec

import "fmt"

// manufacturers lists bank-one JEP106 codes seen on cartridge save flash.
var manufacturers = map[uint8]Manufacturer{
	0x01: {Code: 0x01, Name: "AMD / Spansion", Abbreviation: "Spansion"},
	0x1C: {Code: 0x1C, Name: "Eon Silicon", Abbreviation: "EON"},
	0x1F: {Code: 0x1F, Name: "Atmel", Abbreviation: "Atmel"},
	0x20: {Code: 0x20, Name: "STMicroelectronics", Abbreviation: "ST"},
	0x32: {Code: 0x32, Name: "Panasonic", Abbreviation: "Panasonic"},
	0x37: {Code: 0x37, Name: "AMIC Technology", Abbreviation: "AMIC"},
	0x62: {Code: 0x62, Name: "Sanyo", Abbreviation: "Sanyo"},
	0x8C: {Code: 0x8C, Name: "Elite Semiconductor", Abbreviation: "ESMT"},
	0x9D: {Code: 0x9D, Name: "ISSI", Abbreviation: "ISSI"},
	0xBF: {Code: 0xBF, Name: "SST", Abbreviation: "SST"},
	0xC2: {Code: 0xC2, Name: "Macronix", Abbreviation: "MXIC"},
	0xC8: {Code: 0xC8, Name: "GigaDevice", Abbreviation: "GigaDevice"},
	0xEF: {Code: 0xEF, Name: "Winbond", Abbreviation: "Winbond"},
}

// LookupManufacturer returns manufacturer info for a JEP106 code.
func LookupManufacturer(code uint8) (Manufacturer, bool) {
	m, ok := manufacturers[code]
	if !ok {
		return Manufacturer{
			Code:         code,
			Name:         fmt.Sprintf("Unknown (0x%02X)", code),
			Abbreviation: "Unknown",
		}, false
	}
	return m, true
}

// Vendor returns the manufacturer abbreviation for an id.
func (id ID) Vendor() string {
	m, _ := LookupManufacturer(id.Manufacturer)
	return m.Abbreviation
}
