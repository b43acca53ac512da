package powerbi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Status classifies the outcome of a fetch.
type Status int

const (
	StatusOK Status = iota
	StatusParseError
	StatusHTTPError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusParseError:
		return "parse_error"
	case StatusHTTPError:
		return "http_error"
	default:
		return "unknown"
	}
}

// CityValue is one municipality record. Value is nil when the backend
// reported the city without a number.
type CityValue struct {
	City  string
	Value *float64
}

type ScrapeResult struct {
	Rows          []CityValue
	DataTimestamp string
	StatusCode    int
	Status        Status
	ParseErr      error
	FetchedAt     time.Time
	Raw           []byte
}

// Success reports whether the fetch produced usable data.
func (r *ScrapeResult) Success() bool {
	return r.Status == StatusOK
}

var errMissingPath = errors.New("results[0].result.data.dsr.DS[0].PH[0].DM0 not present")

type querydataResponse struct {
	Results []struct {
		Result struct {
			Data struct {
				DSR struct {
					DS []struct {
						PH []struct {
							DM0 []dataMember `json:"DM0"`
						} `json:"PH"`
					} `json:"DS"`
				} `json:"dsr"`
			} `json:"data"`
		} `json:"result"`
	} `json:"results"`
}

type dataMember struct {
	C []json.RawMessage `json:"C"`
}

// ParseRows extracts city records from a querydata response body.
func ParseRows(body []byte) ([]CityValue, error) {
	var resp querydataResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(resp.Results) == 0 {
		return nil, errMissingPath
	}
	ds := resp.Results[0].Result.Data.DSR.DS
	if len(ds) == 0 || len(ds[0].PH) == 0 || ds[0].PH[0].DM0 == nil {
		return nil, errMissingPath
	}

	members := ds[0].PH[0].DM0
	rows := make([]CityValue, 0, len(members))
	for i, m := range members {
		row, ok := decodeMember(m)
		if !ok {
			log.Debug().Int("index", i).Int("fields", len(m.C)).Msg("Skipping record without city name")
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeMember(m dataMember) (CityValue, bool) {
	if len(m.C) == 0 {
		return CityValue{}, false
	}

	var city string
	if err := json.Unmarshal(m.C[0], &city); err != nil || city == "" {
		return CityValue{}, false
	}

	row := CityValue{City: city}
	if len(m.C) > 1 {
		row.Value = decodeNumber(m.C[1])
	}
	return row, true
}

// decodeNumber accepts JSON numbers and numeric strings; anything else is no value.
func decodeNumber(raw json.RawMessage) *float64 {
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}
