package parkings

import "fmt"

// ValidatePolygon requires at least three vertices with in-range coordinates.
func ValidatePolygon(points []Point) error {
	if len(points) < 3 {
		return fmt.Errorf("%w: at least 3 vertices are required", ErrInvalidPolygon)
	}
	for i, p := range points {
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return fmt.Errorf("%w: vertex %d out of range", ErrInvalidPolygon, i)
		}
	}
	return nil
}

// Centroid is the vertex average, which is what the map marker uses.
func Centroid(points []Point) *Point {
	if len(points) == 0 {
		return nil
	}
	var lat, lng float64
	for _, p := range points {
		lat += p.Lat
		lng += p.Lng
	}
	n := float64(len(points))
	return &Point{Lat: lat / n, Lng: lng / n}
}

// MarkerPosition prefers the first entrance and falls back to the centroid.
func MarkerPosition(firstEntrance *Point, polygon []Point) *Point {
	if firstEntrance != nil {
		return firstEntrance
	}
	return Centroid(polygon)
}
