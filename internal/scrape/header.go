package scrape

const (
	ColTimestamp     = "timestamp"
	ColSuccess       = "success"
	ColDataTimestamp = "data_timestamp"
)

// Header is the ordered column list of a worksheet with a name index.
// Columns are only ever appended.
type Header struct {
	names []string
	index map[string]int
}

// NewHeader indexes an existing header row. If a name repeats, lookups
// resolve to its first position.
func NewHeader(names []string) *Header {
	h := &Header{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, name := range names {
		h.names = append(h.names, name)
		if _, ok := h.index[name]; !ok {
			h.index[name] = len(h.names) - 1
		}
	}
	return h
}

func (h *Header) Index(name string) (int, bool) {
	i, ok := h.index[name]
	return i, ok
}

// Add appends name unless it is already present and returns its position.
func (h *Header) Add(name string) (int, bool) {
	if i, ok := h.index[name]; ok {
		return i, false
	}
	h.names = append(h.names, name)
	h.index[name] = len(h.names) - 1
	return len(h.names) - 1, true
}

func (h *Header) Len() int {
	return len(h.names)
}

// Names returns a copy of the column names.
func (h *Header) Names() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

func (h *Header) Clone() *Header {
	return NewHeader(h.names)
}

// CityColumns drops the fixed metadata columns from names.
func CityColumns(names []string) []string {
	var out []string
	for _, n := range names {
		switch n {
		case ColTimestamp, ColSuccess, ColDataTimestamp:
			continue
		}
		out = append(out, n)
	}
	return out
}
