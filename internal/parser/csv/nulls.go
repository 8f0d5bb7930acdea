package csv

// DefaultNullMarkers are the cell values read as null in addition to the empty
// string. They match the markers common dataframe tooling treats as missing,
// so the city tracker's "NA" cells are dropped the same way.
var DefaultNullMarkers = []string{
	"#N/A", "#N/A N/A", "#NA",
	"-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN",
	"<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// nullSet is a membership set over null markers.
type nullSet map[string]struct{}

func newNullSet(markers []string) nullSet {
	if markers == nil {
		markers = DefaultNullMarkers
	}
	s := make(nullSet, len(markers)+1)
	s[""] = struct{}{}
	for _, m := range markers {
		s[m] = struct{}{}
	}
	return s
}

func (s nullSet) has(v string) bool {
	_, ok := s[v]
	return ok
}
