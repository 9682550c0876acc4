package trade

// Level is one price level of a book side.
type Level struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// Book is a depth snapshot for one outcome.
type Book struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// snapshots holds the demo depth shown for each seeded outcome, keyed by
// outcome id. Orders never rest, so this is display data only.
var snapshots = map[string]Book{
	"market_lula_2026_yes": {
		Bids: []Level{{"0.40", "500"}, {"0.39", "800"}, {"0.38", "1200"}},
		Asks: []Level{{"0.42", "450"}, {"0.43", "700"}, {"0.44", "550"}},
	},
	"market_lula_2026_no": {
		Bids: []Level{{"0.58", "600"}, {"0.57", "700"}},
		Asks: []Level{{"0.60", "400"}, {"0.61", "500"}},
	},
	"market_selic_2025_yes": {
		Bids: []Level{{"0.21", "400"}, {"0.20", "800"}},
		Asks: []Level{{"0.23", "500"}, {"0.24", "500"}},
	},
	"market_selic_2025_no": {
		Bids: []Level{{"0.75", "300"}, {"0.74", "400"}},
		Asks: []Level{{"0.77", "200"}, {"0.78", "300"}},
	},
	"market_dolar_6_yes": {
		Bids: []Level{{"0.62", "200"}, {"0.60", "400"}},
		Asks: []Level{{"0.65", "300"}, {"0.66", "300"}},
	},
	"market_dolar_6_no": {
		Bids: []Level{{"0.33", "250"}, {"0.30", "500"}},
		Asks: []Level{{"0.35", "200"}, {"0.36", "400"}},
	},
}

// Snapshot returns the book for an outcome, empty when none is known.
func Snapshot(outcomeID string) Book {
	b, ok := snapshots[outcomeID]
	if !ok {
		return Book{Bids: []Level{}, Asks: []Level{}}
	}
	return b
}
