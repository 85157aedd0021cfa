package types

// TimestampLayout is the textual timestamp stored with every reading.
const TimestampLayout = "2006-01-02 15:04:05"

type Reading struct {
	ID          string  `json:"id"`
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Point is one sample of a single series.
type Point struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Live is the instantaneous value pair shown next to the charts.
type Live struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Frame is what one completed cycle hands to the presentation side.
type Frame struct {
	Temperature []Point `json:"temperature"`
	Humidity    []Point `json:"humidity"`
	Latest      *Live   `json:"latest"`
}

// NewFrame splits an ascending window into the two series. latest may be nil
// when the store is empty.
func NewFrame(window []Reading, latest *Reading) Frame {
	f := Frame{
		Temperature: make([]Point, 0, len(window)),
		Humidity:    make([]Point, 0, len(window)),
	}
	for _, r := range window {
		f.Temperature = append(f.Temperature, Point{Timestamp: r.Timestamp, Value: r.Temperature})
		f.Humidity = append(f.Humidity, Point{Timestamp: r.Timestamp, Value: r.Humidity})
	}
	if latest != nil {
		f.Latest = &Live{
			Timestamp:   latest.Timestamp,
			Temperature: latest.Temperature,
			Humidity:    latest.Humidity,
		}
	}
	return f
}
