package powerbi

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownMode = errors.New("unknown mode")

// Query describes one semantic query against the Wake County COVID19 report.
// It is a value type; Body renders a fresh request every call.
type Query struct {
	Mode      string
	Worksheet string
	Entity    string
	Column    string
	Measure   string
	Window    int
	DatasetID string
	ReportID  string
	ModelID   int
	// CacheKey sends the serialized commands as the entry's CacheKey, as the
	// report itself does for the deaths visual.
	CacheKey bool
}

const (
	wakeEntity    = "COVID19 Cases"
	wakeColumn    = "City (groups)"
	wakeDatasetID = "13d0297e-cd45-4c40-886a-9ac95733bf66"
	wakeReportID  = "41cc676d-758a-4e98-bb6d-2611acfdbdf8"
	wakeModelID   = 428118
	wakeWindow    = 1000
)

var (
	Infections = Query{
		Mode:      "infections",
		Worksheet: "Scrape Infections",
		Entity:    wakeEntity,
		Column:    wakeColumn,
		Measure:   "Confirmed Cases",
		Window:    wakeWindow,
		DatasetID: wakeDatasetID,
		ReportID:  wakeReportID,
		ModelID:   wakeModelID,
	}

	Deaths = Query{
		Mode:      "deaths",
		Worksheet: "Scrape Deaths",
		Entity:    wakeEntity,
		Column:    wakeColumn,
		Measure:   "Total Deaths",
		Window:    wakeWindow,
		DatasetID: wakeDatasetID,
		ReportID:  wakeReportID,
		ModelID:   wakeModelID,
		CacheKey:  true,
	}
)

// Modes lists the accepted CLI modes in usage order.
var Modes = []string{Infections.Mode, Deaths.Mode}

// Lookup returns the preset query for a CLI mode.
func Lookup(mode string) (Query, error) {
	switch mode {
	case Infections.Mode:
		return Infections, nil
	case Deaths.Mode:
		return Deaths, nil
	default:
		return Query{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Request body types. Field names follow the querydata wire format.

type querydataRequest struct {
	Version       string        `json:"version"`
	Queries       []queryEntry  `json:"queries"`
	CancelQueries []interface{} `json:"cancelQueries"`
	ModelID       int           `json:"modelId"`
}

type queryEntry struct {
	Query              queryCommands      `json:"Query"`
	CacheKey           string             `json:"CacheKey,omitempty"`
	QueryID            string             `json:"QueryId"`
	ApplicationContext applicationContext `json:"ApplicationContext"`
}

type queryCommands struct {
	Commands []command `json:"Commands"`
}

type command struct {
	SemanticQueryDataShapeCommand dataShapeCommand `json:"SemanticQueryDataShapeCommand"`
}

type dataShapeCommand struct {
	Query   semanticQuery `json:"Query"`
	Binding binding       `json:"Binding"`
}

type semanticQuery struct {
	Version int        `json:"Version"`
	From    []fromItem `json:"From"`
	Select  []selector `json:"Select"`
	OrderBy []orderBy  `json:"OrderBy"`
}

type fromItem struct {
	Name   string `json:"Name"`
	Entity string `json:"Entity"`
	Type   int    `json:"Type"`
}

type sourceRef struct {
	Source string `json:"Source"`
}

type sourceExpression struct {
	SourceRef sourceRef `json:"SourceRef"`
}

type propertyRef struct {
	Expression sourceExpression `json:"Expression"`
	Property   string           `json:"Property"`
}

type selector struct {
	Column  *propertyRef `json:"Column,omitempty"`
	Measure *propertyRef `json:"Measure,omitempty"`
	Name    string       `json:"Name"`
}

type orderBy struct {
	Direction  int             `json:"Direction"`
	Expression orderExpression `json:"Expression"`
}

type orderExpression struct {
	Column propertyRef `json:"Column"`
}

type binding struct {
	Primary       bindingPrimary `json:"Primary"`
	DataReduction dataReduction  `json:"DataReduction"`
	Version       int            `json:"Version"`
}

type bindingPrimary struct {
	Groupings []grouping `json:"Groupings"`
}

type grouping struct {
	Projections []int `json:"Projections"`
}

type dataReduction struct {
	DataVolume int              `json:"DataVolume"`
	Primary    reductionPrimary `json:"Primary"`
}

type reductionPrimary struct {
	Window window `json:"Window"`
}

type window struct {
	Count int `json:"Count"`
}

type applicationContext struct {
	DatasetID string          `json:"DatasetId"`
	Sources   []reportSources `json:"Sources"`
}

type reportSources struct {
	ReportID string `json:"ReportId"`
}

const sourceAlias = "c1"

func (q Query) request() (querydataRequest, error) {
	ref := func(property string) *propertyRef {
		return &propertyRef{
			Expression: sourceExpression{SourceRef: sourceRef{Source: sourceAlias}},
			Property:   property,
		}
	}

	sq := semanticQuery{
		Version: 2,
		From:    []fromItem{{Name: sourceAlias, Entity: q.Entity, Type: 0}},
		Select: []selector{
			{Column: ref(q.Column), Name: q.Entity + "." + q.Column},
			{Measure: ref(q.Measure), Name: q.Entity + "." + q.Measure},
		},
		OrderBy: []orderBy{{Direction: 1, Expression: orderExpression{Column: *ref(q.Column)}}},
	}

	commands := queryCommands{Commands: []command{{
		SemanticQueryDataShapeCommand: dataShapeCommand{
			Query: sq,
			Binding: binding{
				Primary: bindingPrimary{Groupings: []grouping{{Projections: []int{0, 1}}}},
				DataReduction: dataReduction{
					DataVolume: 4,
					Primary:    reductionPrimary{Window: window{Count: q.Window}},
				},
				Version: 1,
			},
		},
	}}}

	entry := queryEntry{
		Query: commands,
		ApplicationContext: applicationContext{
			DatasetID: q.DatasetID,
			Sources:   []reportSources{{ReportID: q.ReportID}},
		},
	}
	if q.CacheKey {
		key, err := json.Marshal(commands)
		if err != nil {
			return querydataRequest{}, err
		}
		entry.CacheKey = string(key)
	}

	return querydataRequest{
		Version:       "1.0.0",
		Queries:       []queryEntry{entry},
		CancelQueries: []interface{}{},
		ModelID:       q.ModelID,
	}, nil
}

// Body renders the querydata POST body.
func (q Query) Body() ([]byte, error) {
	req, err := q.request()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s cache key: %w", q.Mode, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s query: %w", q.Mode, err)
	}
	return body, nil
}
