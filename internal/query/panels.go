package query

import "unicode/utf8"

var (
	imageFormats  = []string{"jpg", "png", "webp", "gif"}
	scaleModes    = []string{"fit", "fill"}
	gravities     = []string{"nw", "n", "ne", "w", "c", "e", "sw", "s", "se"}
	cropOffsetRef = []string{"lt", "lb", "rt", "rb"}
)

var BasicPanel = Panel{
	Name: Basic,
	Fields: []Field{
		{Key: "r", Kind: KindInt, Default: Int(0), Policy: Positive},
		{Key: "bc", Kind: KindString, Default: Str(""), Policy: Color},
		{Key: "g", Kind: KindBool, Default: Bool(false), Policy: Flag},
		{Key: "q", Kind: KindInt, Default: Int(75), Policy: Always},
		{Key: "ao", Kind: KindBool, Default: Bool(true), Policy: OmitWhenTrue},
		{Key: "st", Kind: KindBool, Default: Bool(true), Policy: OmitWhenTrue},
		{Key: "f", Kind: KindString, Default: Str("jpg"), Policy: Enum, Options: imageFormats},
	},
}

var ScalePanel = Panel{
	Name: Scale,
	Gate: "s",
	Fields: []Field{
		{Key: "s", Kind: KindBool, Default: Bool(false), Policy: Gate},
		{Key: "sm", Kind: KindString, Default: Str("fit"), Policy: Enum, Options: scaleModes},
		{Key: "sw", Kind: KindInt, Default: Int(200), Policy: Positive},
		{Key: "sh", Kind: KindInt, Default: Int(200), Policy: Positive},
		{Key: "sp", Kind: KindInt, Default: Int(0), Policy: Positive},
		{Key: "swp", Kind: KindInt, Default: Int(0), Policy: Positive},
		{Key: "shp", Kind: KindInt, Default: Int(0), Policy: Positive},
	},
}

var CropPanel = Panel{
	Name: Crop,
	Gate: "c",
	Fields: []Field{
		{Key: "c", Kind: KindBool, Default: Bool(false), Policy: Gate},
		{Key: "cg", Kind: KindString, Default: Str("c"), Policy: Enum, Options: gravities},
		{Key: "cw", Kind: KindInt, Default: Int(200), Policy: Positive},
		{Key: "ch", Kind: KindInt, Default: Int(200), Policy: Positive},
		{Key: "co", Kind: KindString, Default: Str("lt"), Policy: Enum, Options: cropOffsetRef},
		{Key: "cx", Kind: KindInt, Default: Int(10), Policy: Positive},
		{Key: "cy", Kind: KindInt, Default: Int(10), Policy: Positive},
	},
}

// WatermarkPanel needs text: kimg ignores every watermark option without t.
var WatermarkPanel = Panel{
	Name:     Watermark,
	Gate:     "wm",
	Requires: "t",
	Fields: []Field{
		{Key: "wm", Kind: KindBool, Default: Bool(false), Policy: Gate},
		{Key: "t", Kind: KindString, Default: Str("kimg"), Policy: Enum},
		{Key: "ts", Kind: KindInt, Default: Int(16), Policy: Positive},
		{Key: "tw", Kind: KindInt, Default: Int(0), Policy: Positive},
		{Key: "tc", Kind: KindString, Default: Str(""), Policy: Color},
		{Key: "tsc", Kind: KindString, Default: Str(""), Policy: Color},
		{Key: "tsw", Kind: KindInt, Default: Int(1), Policy: Positive},
		{Key: "tg", Kind: KindString, Default: Str("se"), Policy: Enum, Options: gravities},
		{Key: "tx", Kind: KindInt, Default: Int(10), Policy: Positive},
		{Key: "ty", Kind: KindInt, Default: Int(10), Policy: Positive},
		{Key: "tr", Kind: KindInt, Default: Int(0), Policy: Positive},
		{Key: "to", Kind: KindInt, Default: Int(80), Policy: Positive},
	},
}

// Panels lists every panel in merge order.
var Panels = []Panel{BasicPanel, ScalePanel, CropPanel, WatermarkPanel}

func Lookup(name PanelName) (Panel, bool) {
	for _, p := range Panels {
		if p.Name == name {
			return p, true
		}
	}
	return Panel{}, false
}

// SwatchColor is the preview color shown next to a color input. Incomplete
// values show black. It never feeds the query.
func SwatchColor(raw string) string {
	if utf8.RuneCountInString(raw) < 6 {
		return "000000"
	}
	return raw
}
