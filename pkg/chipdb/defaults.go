package chipdb

import (
	"sort"
	"strings"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

var defaultFlash = []FlashChip{
	{ID: 0x204012, Capacity: 256 * 1024, EraseUnit: 64 * 1024, Vendor: "ST"},
	{ID: 0x204013, Capacity: 512 * 1024, EraseUnit: 64 * 1024, Vendor: "ST"},
	{ID: 0x204014, Capacity: 1024 * 1024, EraseUnit: 64 * 1024, Vendor: "ST"},
	{ID: 0x202017, Capacity: 8 * 1024 * 1024, EraseUnit: 64 * 1024, Vendor: "ST"},
	{ID: 0xC22211, Capacity: 128 * 1024, EraseUnit: 64 * 1024, Vendor: "MXIC"},
	{ID: 0x621600, Capacity: 512 * 1024, EraseUnit: 64 * 1024, Vendor: "Sanyo"},
}

var defaultTiers = []Tier{
	{Technology: cart.TechSerialEEPROM, Capacity: 512, AddressWidth: 8, PageSize: 16},
	{Technology: cart.TechSerialEEPROM, Capacity: 8 * 1024, AddressWidth: 16, PageSize: 32},
	{Technology: cart.TechSerialEEPROM, Capacity: 64 * 1024, AddressWidth: 16, PageSize: 128},
	{Technology: cart.TechSerialEEPROM, Capacity: 128 * 1024, AddressWidth: 24, PageSize: 256},
	{Technology: cart.TechFRAM, Capacity: 8 * 1024, AddressWidth: 16},
	{Technology: cart.TechFRAM, Capacity: 32 * 1024, AddressWidth: 16},
}

// gameSaveTypes names the save types a game entry may force.
var gameSaveTypes = map[string]GameSave{
	"none":       {Technology: cart.TechUnknown},
	"eeprom-512": {Technology: cart.TechSerialEEPROM, Capacity: 512},
	"eeprom-8k":  {Technology: cart.TechSerialEEPROM, Capacity: 8 * 1024},
	"sram-32k":   {Technology: cart.TechBatterySRAM, Capacity: 32 * 1024},
	"flash-64k":  {Technology: cart.TechNORFlash, Capacity: 64 * 1024},
	"flash-128k": {Technology: cart.TechNORFlash, Capacity: 128 * 1024},
}

// defaultGames holds titles whose program image misreports its save type.
var defaultGames = map[string]GameSave{
	"AXVE": gameSaveTypes["flash-128k"], // Pokemon Ruby
	"AXPE": gameSaveTypes["flash-128k"], // Pokemon Sapphire
	"BPEE": gameSaveTypes["flash-128k"], // Pokemon Emerald
	"BPRE": gameSaveTypes["flash-128k"], // Pokemon FireRed
	"BPGE": gameSaveTypes["flash-128k"], // Pokemon LeafGreen
}

// SaveType looks up a save type by the name game entries use.
func SaveType(name string) (GameSave, bool) {
	g, ok := gameSaveTypes[strings.ToLower(name)]
	return g, ok
}

// SaveTypeNames lists the accepted save type names.
func SaveTypeNames() []string {
	names := make([]string, 0, len(gameSaveTypes))
	for n := range gameSaveTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
