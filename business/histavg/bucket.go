package histavg

import "time"

const secondsInDay = 24 * 60 * 60

// Bucketer assigns times to time of day buckets measured from the start of the service day
type Bucketer struct {
	Width time.Duration
	// ServiceDayStartHour is the hour the service day starts, times before it belong to the previous service day
	ServiceDayStartHour int
	// Location the time of day is measured in, the time's own location when nil
	Location *time.Location
}

// MakeBucketer builds a Bucketer, defaulting width to three hours
func MakeBucketer(width time.Duration, serviceDayStartHour int, location *time.Location) Bucketer {
	if width <= 0 {
		width = 3 * time.Hour
	}
	return Bucketer{
		Width:               width,
		ServiceDayStartHour: serviceDayStartHour,
		Location:            location,
	}
}

// WidthSeconds returns the bucket width in seconds
func (b Bucketer) WidthSeconds() int {
	width := int(b.Width / time.Second)
	if width <= 0 {
		return secondsInDay
	}
	return width
}

// SecondsIntoServiceDay returns the seconds between the start of the service day and t
func (b Bucketer) SecondsIntoServiceDay(t time.Time) int {
	if b.Location != nil {
		t = t.In(b.Location)
	}
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second() - b.ServiceDayStartHour*3600
	if seconds < 0 {
		seconds += secondsInDay
	}
	return seconds
}

// Bucket returns the start, in seconds since the service day start, of the bucket containing t
func (b Bucketer) Bucket(t time.Time) int {
	width := b.WidthSeconds()
	return (b.SecondsIntoServiceDay(t) / width) * width
}
