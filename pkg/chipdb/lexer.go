package chipdb

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// ChipLexer tokenizes chip database files.
//
//	# comment
//	flash 0x204012 size 256K erase 64K vendor "ST";
//	eeprom tier 64K width 16 page 128;
//	eeprom-page-threshold 1K;
//	game "AXVE" flash-128k;
var ChipLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
	{Name: "Hex", Pattern: `0[xX][0-9A-Fa-f]+`},
	{Name: "Size", Pattern: `[0-9]+[KkMm]?`},
	{Name: "Ident", Pattern: `[a-zA-Z][a-zA-Z0-9_-]*`},
	{Name: "Semicolon", Pattern: `;`},
})
