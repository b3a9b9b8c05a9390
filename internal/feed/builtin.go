package feed

import "busmap/pkg/amanaapi"

type lineSpec struct {
	id       int
	name     string
	capacity int
	stops    []stopSpec
	vehicle  [2]float64
}

type stopSpec struct {
	lat, lng float64
	name     string
}

// Lines around KL Sentral used when no fixture is configured.
var builtinLines = []lineSpec{
	{
		id:       1,
		name:     "KL Sentral - Bangsar",
		capacity: 40,
		stops: []stopSpec{
			{3.1387, 101.6169, "KL Sentral"},
			{3.1392, 101.6173, "Brickfields"},
		},
		vehicle: [2]float64{3.1392, 101.6173},
	},
	{
		id:       2,
		name:     "Mid Valley Shuttle",
		capacity: 30,
		stops: []stopSpec{
			{3.1402, 101.6183, "Jalan Tun Sambanthan"},
		},
		vehicle: [2]float64{3.1407, 101.6187},
	},
	{
		id:       3,
		name:     "Petaling Jaya Loop",
		capacity: 45,
		stops: []stopSpec{
			{3.0738, 101.5183, ""},
			{3.0838, 101.5283, ""},
			{3.0938, 101.5383, ""},
			{3.1038, 101.5483, ""},
		},
		vehicle: [2]float64{3.0838, 101.5283},
	},
}

// BuiltinDocument returns a fresh copy of the built-in lines.
func BuiltinDocument() *amanaapi.Document {
	doc := &amanaapi.Document{BusLines: make([]amanaapi.BusLine, 0, len(builtinLines))}
	totalCapacity := 0

	for _, spec := range builtinLines {
		id := spec.id
		line := amanaapi.BusLine{
			ID:         &id,
			Name:       spec.name,
			Passengers: &amanaapi.Passengers{Capacity: spec.capacity},
			CurrentLocation: &amanaapi.Location{
				Latitude:  ptr(spec.vehicle[0]),
				Longitude: ptr(spec.vehicle[1]),
			},
		}
		for _, s := range spec.stops {
			line.BusStops = append(line.BusStops, amanaapi.BusStop{
				Latitude:  ptr(s.lat),
				Longitude: ptr(s.lng),
				Name:      s.name,
			})
		}
		totalCapacity += spec.capacity
		doc.BusLines = append(doc.BusLines, line)
	}

	doc.OperationalSummary = &amanaapi.OperationalSummary{
		TotalBuses:    len(builtinLines),
		ActiveBuses:   len(builtinLines),
		TotalCapacity: totalCapacity,
	}
	return doc
}

func ptr(v float64) *float64 { return &v }
