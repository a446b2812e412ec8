package traveltek

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"zipsea-sync-api/internal/model"
)

// Document is the normalized projection of one Traveltek pricing document.
// Raw always holds the original decoded payload unmodified; every other
// field is derivable from it.
type Document struct {
	ExternalID string // codetocruiseid
	CruiseID   string
	LineID     int
	ShipID     int
	Name       string
	SailDate   time.Time
	Nights     int
	Currency   string
	Itinerary  []ItineraryDay
	// CheapestByCabin maps cabin code to the minimum price across all rate
	// codes and occupancies. Ties go to the first key in lexical order.
	CheapestByCabin map[string]float64
	Cheapest        model.CheapestPrices
	Raw             []byte
}

// ItineraryDay is one day of the sailing's itinerary.
type ItineraryDay struct {
	Day        int    `json:"day"`
	PortName   string `json:"port_name"`
	ArriveTime string `json:"arrive_time,omitempty"`
	DepartTime string `json:"depart_time,omitempty"`
}

// rawDocument mirrors the feed's document shape. Pricing and cabin sections
// are keyed by dynamic string keys, so they decode into maps rather than
// fixed structs.
type rawDocument struct {
	CodeToCruiseID flexString `json:"codetocruiseid"`
	CruiseID       flexString `json:"cruiseid"`
	LineID         flexInt    `json:"lineid"`
	ShipID         flexInt    `json:"shipid"`
	Name           string     `json:"name"`
	SailDate       string     `json:"saildate"`
	StartDate      string     `json:"startdate"`
	Nights         flexInt    `json:"nights"`
	Currency       string     `json:"currency"`
	Itinerary      []rawItineraryDay   `json:"itinerary"`
	Cabins         map[string]rawCabin `json:"cabins"`
	// prices: rate code -> cabin code -> occupancy code -> price fields
	Prices map[string]map[string]map[string]rawPrice `json:"prices"`
}

type rawItineraryDay struct {
	Day        flexInt `json:"day"`
	Name       string  `json:"name"`
	ItinName   string  `json:"itineraryname"`
	ArriveTime string  `json:"arrivetime"`
	DepartTime string  `json:"departtime"`
}

type rawCabin struct {
	CodType string `json:"codtype"`
	Name    string `json:"name"`
}

type rawPrice struct {
	Price    flexFloat `json:"price"`
	Taxes    flexFloat `json:"taxes"`
	NCF      flexFloat `json:"ncf"`
	Gratuity flexFloat `json:"gratuity"`
	Total    flexFloat `json:"total"`
}

// Parse decodes a downloaded pricing document into its normalized form.
// Missing optional sections (itinerary, cabins, prices) are tolerated, and
// non-numeric placeholders in numeric fields coerce to null instead of
// failing. Only an undecodable payload or missing identity is an error.
func Parse(raw []byte) (*Document, error) {
	var rd rawDocument
	if err := json.Unmarshal(raw, &rd); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}

	externalID := string(rd.CodeToCruiseID)
	if externalID == "" {
		return nil, &ParseError{Reason: "missing codetocruiseid"}
	}

	sailDate, err := parseSailDate(rd.SailDate, rd.StartDate)
	if err != nil {
		return nil, &ParseError{Reason: "unparseable saildate", Err: err}
	}

	doc := &Document{
		ExternalID:      externalID,
		CruiseID:        string(rd.CruiseID),
		LineID:          int(rd.LineID),
		ShipID:          int(rd.ShipID),
		Name:            rd.Name,
		SailDate:        sailDate,
		Nights:          int(rd.Nights),
		Currency:        rd.Currency,
		Itinerary:       normalizeItinerary(rd.Itinerary),
		CheapestByCabin: map[string]float64{},
		Raw:             raw,
	}

	projectCheapest(doc, rd.Prices, rd.Cabins)
	return doc, nil
}

// projectCheapest scans all (rate, cabin, occupancy) key paths and records
// the minimum price per cabin and per cabin category. Keys are walked in
// sorted order so the strict less-than comparison makes "first in lexical
// order" the deterministic tie-break.
func projectCheapest(doc *Document, prices map[string]map[string]map[string]rawPrice, cabins map[string]rawCabin) {
	for _, rateCode := range sortedKeys(prices) {
		byCabin := prices[rateCode]
		for _, cabinCode := range sortedKeys(byCabin) {
			byOcc := byCabin[cabinCode]
			for _, occCode := range sortedKeys(byOcc) {
				p := byOcc[occCode]
				value := p.Price.Value
				if value == nil {
					value = p.Total.Value
				}
				if value == nil {
					continue
				}
				if best, ok := doc.CheapestByCabin[cabinCode]; !ok || *value < best {
					doc.CheapestByCabin[cabinCode] = *value
				}
				updateCategory(&doc.Cheapest, cabinCategory(cabins, cabinCode), *value)
			}
		}
	}
}

// cabinCategory resolves a cabin code to one of the four standard cabin
// categories via the document's cabins section. Unknown or absent cabin
// metadata yields "", which simply leaves the category projection sparse.
func cabinCategory(cabins map[string]rawCabin, cabinCode string) string {
	meta, ok := cabins[cabinCode]
	if !ok {
		return ""
	}
	t := strings.ToLower(meta.CodType)
	switch {
	case strings.Contains(t, "suite"):
		return "suite"
	case strings.Contains(t, "balcony"):
		return "balcony"
	case strings.Contains(t, "outside"), strings.Contains(t, "ocean"):
		return "outside"
	case strings.Contains(t, "inside"), strings.Contains(t, "interior"):
		return "inside"
	}
	return ""
}

func updateCategory(c *model.CheapestPrices, category string, value float64) {
	var slot **float64
	switch category {
	case "inside":
		slot = &c.Inside
	case "outside":
		slot = &c.Outside
	case "balcony":
		slot = &c.Balcony
	case "suite":
		slot = &c.Suite
	default:
		return
	}
	if *slot == nil || value < **slot {
		v := value
		*slot = &v
	}
}

func normalizeItinerary(days []rawItineraryDay) []ItineraryDay {
	if len(days) == 0 {
		return nil
	}
	out := make([]ItineraryDay, 0, len(days))
	for _, d := range days {
		name := d.Name
		if name == "" {
			name = d.ItinName
		}
		out = append(out, ItineraryDay{
			Day:        int(d.Day),
			PortName:   name,
			ArriveTime: d.ArriveTime,
			DepartTime: d.DepartTime,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func parseSailDate(saildate, startdate string) (time.Time, error) {
	s := saildate
	if s == "" {
		s = startdate
	}
	// Some lines ship full timestamps; the date prefix is all we key on.
	if len(s) > 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// flexFloat decodes numeric fields that may arrive as JSON numbers, numeric
// strings, empty strings, "N/A" placeholders, or null. Anything that is not
// a number coerces to a nil Value; decoding never fails.
type flexFloat struct {
	Value *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.Value = &v
	return nil
}

// flexInt decodes integers that may arrive as numbers or strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	*f = flexInt(int(v))
	return nil
}

// flexString decodes identifiers that may arrive as strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return nil
		}
		*f = flexString(strings.TrimSpace(v))
		return nil
	}
	// Numeric id: strip a trailing ".0" that some lines emit.
	if v, err := strconv.ParseFloat(s, 64); err == nil && v == float64(int64(v)) {
		*f = flexString(strconv.FormatInt(int64(v), 10))
		return nil
	}
	*f = flexString(s)
	return nil
}
