package traveltek

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullDocument(t *testing.T) {
	raw := []byte(`{
		"codetocruiseid": "2143102",
		"cruiseid": "336457",
		"lineid": 22,
		"shipid": 410,
		"name": "7 Night Western Caribbean",
		"saildate": "2026-03-14",
		"nights": 7,
		"currency": "USD",
		"itinerary": [
			{"day": 2, "name": "Cozumel", "arrivetime": "08:00", "departtime": "17:00"},
			{"day": 1, "name": "Miami", "departtime": "16:30"}
		],
		"cabins": {
			"IB": {"codtype": "inside", "name": "Interior Stateroom"},
			"BD": {"codtype": "balcony", "name": "Balcony Stateroom"}
		},
		"prices": {
			"BESTFARE": {
				"IB": {"101": {"price": 499, "taxes": 120.5}},
				"BD": {"101": {"price": 899}, "102": {"price": 849}}
			}
		}
	}`)

	doc, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "2143102", doc.ExternalID)
	assert.Equal(t, "336457", doc.CruiseID)
	assert.Equal(t, 22, doc.LineID)
	assert.Equal(t, 410, doc.ShipID)
	assert.Equal(t, 7, doc.Nights)
	assert.Equal(t, "USD", doc.Currency)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), doc.SailDate)
	assert.Equal(t, raw, doc.Raw)

	// Itinerary is sorted by day regardless of feed order.
	require.Len(t, doc.Itinerary, 2)
	assert.Equal(t, "Miami", doc.Itinerary[0].PortName)
	assert.Equal(t, "Cozumel", doc.Itinerary[1].PortName)

	assert.Equal(t, map[string]float64{"IB": 499, "BD": 849}, doc.CheapestByCabin)
	require.NotNil(t, doc.Cheapest.Inside)
	assert.Equal(t, 499.0, *doc.Cheapest.Inside)
	require.NotNil(t, doc.Cheapest.Balcony)
	assert.Equal(t, 849.0, *doc.Cheapest.Balcony)
	assert.Nil(t, doc.Cheapest.Outside)
	assert.Nil(t, doc.Cheapest.Suite)
}

func TestParseCheapestAcrossRateCodes(t *testing.T) {
	raw := []byte(`{
		"codetocruiseid": "1",
		"saildate": "2026-01-01",
		"cabins": {"IA": {"codtype": "interior"}},
		"prices": {
			"RATEA": {"IA": {"101": {"price": 100}}},
			"RATEB": {"IA": {"101": {"price": 90}}}
		}
	}`)

	doc, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 90.0, doc.CheapestByCabin["IA"])
	require.NotNil(t, doc.Cheapest.Inside)
	assert.Equal(t, 90.0, *doc.Cheapest.Inside)
}

func TestParseStringAndPlaceholderNumbers(t *testing.T) {
	raw := []byte(`{
		"codetocruiseid": 2143102,
		"lineid": "22",
		"shipid": "410",
		"nights": "7",
		"saildate": "2026-03-14T00:00:00",
		"cabins": {"IA": {"codtype": "inside"}},
		"prices": {
			"RATE": {"IA": {
				"101": {"price": "549.99"},
				"102": {"price": "N/A"},
				"103": {"price": ""},
				"104": {"price": null}
			}}
		}
	}`)

	doc, err := Parse(raw)
	require.NoError(t, err)

	// Numeric identifiers coerce to their canonical string form.
	assert.Equal(t, "2143102", doc.ExternalID)
	assert.Equal(t, 22, doc.LineID)
	assert.Equal(t, 410, doc.ShipID)
	assert.Equal(t, 7, doc.Nights)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), doc.SailDate)

	// Placeholders are skipped, not treated as zero.
	assert.Equal(t, 549.99, doc.CheapestByCabin["IA"])
}

func TestParseFallsBackToTotal(t *testing.T) {
	raw := []byte(`{
		"codetocruiseid": "1",
		"saildate": "2026-01-01",
		"prices": {"RATE": {"XX": {"101": {"price": null, "total": 750}}}}
	}`)

	doc, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 750.0, doc.CheapestByCabin["XX"])
}

func TestParseMissingSections(t *testing.T) {
	doc, err := Parse([]byte(`{"codetocruiseid": "9", "saildate": "2027-06-30"}`))
	require.NoError(t, err)

	assert.Empty(t, doc.CheapestByCabin)
	assert.Nil(t, doc.Itinerary)
	assert.Nil(t, doc.Cheapest.Inside)
}

func TestParseRejectsMissingIdentity(t *testing.T) {
	_, err := Parse([]byte(`{"saildate": "2026-01-01"}`))
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"codetocruiseid": `))
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestParseRejectsBadSailDate(t *testing.T) {
	_, err := Parse([]byte(`{"codetocruiseid": "1", "saildate": "not-a-date"}`))
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestParseUsesStartDateFallback(t *testing.T) {
	doc, err := Parse([]byte(`{"codetocruiseid": "1", "startdate": "2026-11-05"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC), doc.SailDate)
}

func TestCabinCategoryMatching(t *testing.T) {
	cabins := map[string]rawCabin{
		"S1": {CodType: "Grand Suite"},
		"B1": {CodType: "BALCONY"},
		"O1": {CodType: "oceanview"},
		"I1": {CodType: "Interior"},
		"U1": {CodType: "mystery"},
	}

	assert.Equal(t, "suite", cabinCategory(cabins, "S1"))
	assert.Equal(t, "balcony", cabinCategory(cabins, "B1"))
	assert.Equal(t, "outside", cabinCategory(cabins, "O1"))
	assert.Equal(t, "inside", cabinCategory(cabins, "I1"))
	assert.Equal(t, "", cabinCategory(cabins, "U1"))
	assert.Equal(t, "", cabinCategory(cabins, "missing"))
}

func TestDocPath(t *testing.T) {
	sail := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026/3/22/410/2143102.json", DocPath(22, 410, "2143102", sail))

	// Months are not zero padded on the feed.
	nov := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025/11/7/150/555.json", DocPath(7, 150, "555", nov))
}
