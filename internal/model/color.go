package model

// ColorTag is the event color category.
type ColorTag int

const (
	ColorDefault ColorTag = iota
	ColorBlue
	ColorGreen
	ColorPurple
	ColorRed
	ColorYellow
	ColorOrange
	ColorTurquoise
	ColorGray
	ColorBoldBlue
	ColorBoldGreen
	ColorBoldRed
)

// colorIDs maps Google Calendar colorId values onto tags.
var colorIDs = map[string]ColorTag{
	"1":  ColorBlue,
	"2":  ColorGreen,
	"3":  ColorPurple,
	"4":  ColorRed,
	"5":  ColorYellow,
	"6":  ColorOrange,
	"7":  ColorTurquoise,
	"8":  ColorGray,
	"9":  ColorBoldBlue,
	"10": ColorBoldGreen,
	"11": ColorBoldRed,
}

var colorNames = [...]string{
	ColorDefault:   "blue",
	ColorBlue:      "blue",
	ColorGreen:     "green",
	ColorPurple:    "purple",
	ColorRed:       "red",
	ColorYellow:    "yellow",
	ColorOrange:    "orange",
	ColorTurquoise: "turquoise",
	ColorGray:      "gray",
	ColorBoldBlue:  "boldBlue",
	ColorBoldGreen: "boldGreen",
	ColorBoldRed:   "boldRed",
}

// ColorFromID resolves a provider colorId. An empty id is the default
// color; an id outside the table is gray.
func ColorFromID(id string) ColorTag {
	if id == "" {
		return ColorDefault
	}
	if c, ok := colorIDs[id]; ok {
		return c
	}
	return ColorGray
}

func (c ColorTag) String() string {
	if c < 0 || int(c) >= len(colorNames) {
		return colorNames[ColorGray]
	}
	return colorNames[c]
}
