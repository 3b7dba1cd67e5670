package moderation

// defaultBlocklist holds slurs, self-harm incitement, sexual exploitation,
// extremist slogans, threats and common scam lines. Multi-word entries are
// phrases.
var defaultBlocklist = []string{
	// slurs
	"nigger", "nigga", "faggot", "fag", "tranny", "chink", "spic", "kike",
	"retard", "cunt",

	// self-harm
	"kys", "kill yourself", "go die", "hang yourself", "end your life",
	"slit your wrists",

	// sexual exploitation
	"child porn", "cp links", "pedo", "pedophile", "send nudes", "nude pics",
	"rape", "rapist",

	// extremism and threats
	"heil hitler", "white power", "gas the", "bomb threat", "shoot up",
	"i will kill you",

	// scams
	"free bitcoin", "crypto giveaway", "double your money", "click my link",
	"onlyfans link",
}
