package render

// Braille base character and dot positions:
// ⠁⠂⠄⡀  (dots 1,2,3,7)
// ⠈⠐⠠⢀  (dots 4,5,6,8)
// Combined: 256 patterns from ⠀ (0x2800) to ⣿ (0x28FF)

const brailleBase = 0x2800

// brailleDots maps a 2x4 pixel grid (column-major: left column top-to-
// bottom, then right column) to the unicode dot bits.
var brailleDots = [8]rune{
	0x01, // dot 1 (top-left)
	0x02, // dot 2
	0x04, // dot 3
	0x40, // dot 7
	0x08, // dot 4 (top-right)
	0x10, // dot 5
	0x20, // dot 6
	0x80, // dot 8
}

// BrailleGlyph builds the braille rune for a 2x4 pixel pattern, one bit per
// pixel in the column-major order of brailleDots.
func BrailleGlyph(pixels uint8) rune {
	glyph := rune(brailleBase)
	for i, dot := range brailleDots {
		if pixels&(1<<uint(i)) != 0 {
			glyph |= dot
		}
	}
	return glyph
}

// DefaultBrailleAtlas maps known sprite IDs to braille glyphs, giving a
// sub-cell pixel look on terminals with good unicode support but weak
// block-drawing fonts.
func DefaultBrailleAtlas() *SpriteAtlas {
	atlas := NewSpriteAtlas(Sprite{Char: BrailleGlyph(0xFF), FG: ColorWhite, BG: ColorBlack})
	atlas.Set("player", Sprite{Char: BrailleGlyph(0b01111110), FG: ColorWhite, BG: ColorBlack})
	atlas.Set("player_charge", Sprite{Char: BrailleGlyph(0b01111110), FG: ColorYellow, BG: ColorBlack})
	atlas.Set("player_punch", Sprite{Char: BrailleGlyph(0b11111111), FG: ColorRed, BG: ColorBlack})
	atlas.Set("slime", Sprite{Char: BrailleGlyph(0b11001100), FG: ColorGreen, BG: ColorBlack})
	atlas.Set("bat", Sprite{Char: BrailleGlyph(0b00100100), FG: ColorBlue, BG: ColorBlack})
	atlas.Set("fist_left", Sprite{Char: BrailleGlyph(0b00001111), FG: ColorYellow, BG: ColorBlack})
	atlas.Set("fist_right", Sprite{Char: BrailleGlyph(0b11110000), FG: ColorYellow, BG: ColorBlack})
	atlas.Set("platform", Sprite{Char: BrailleGlyph(0xFF), FG: Color{120, 120, 120}, BG: ColorBlack})
	return atlas
}
