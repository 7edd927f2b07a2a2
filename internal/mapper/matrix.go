package mapper

// Missing is the sentinel code for an absent or unmatchable response cell.
const Missing = -1

// ItemResponseMatrix is the ordered persons × items response matrix. Each cell
// holds an integer code in [0, Levels-1] or Missing. Rows with no valid
// response and items with fewer than two distinct observed codes are excluded
// during mapping, so the published invariants hold for every instance.
type ItemResponseMatrix struct {
	PersonIDs []string
	ItemIDs   []string
	Levels    int
	Codes     [][]int // Codes[person][item]
}

// Response returns the code at (person, item) and whether it is observed.
func (m *ItemResponseMatrix) Response(person, item int) (int, bool) {
	code := m.Codes[person][item]
	return code, code != Missing
}

// RowValidCount returns the number of observed responses for a person.
func (m *ItemResponseMatrix) RowValidCount(person int) int {
	n := 0
	for _, code := range m.Codes[person] {
		if code != Missing {
			n++
		}
	}
	return n
}

// ColumnValidCount returns the number of observed responses for an item.
func (m *ItemResponseMatrix) ColumnValidCount(item int) int {
	n := 0
	for p := range m.Codes {
		if m.Codes[p][item] != Missing {
			n++
		}
	}
	return n
}

// ItemIndex returns the column index of an item identifier, or -1.
func (m *ItemResponseMatrix) ItemIndex(itemID string) int {
	for i, id := range m.ItemIDs {
		if id == itemID {
			return i
		}
	}
	return -1
}
