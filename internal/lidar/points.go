// Package lidar holds the shared point representations used by the
// live-preview decoder.
package lidar

import "math"

// PointPolar is a compact representation of a single LiDAR return in polar
// terms: the laser channel that fired, where it was pointing, and what came
// back.
type PointPolar struct {
	Channel   int
	Azimuth   float64 // degrees, 0 = sensor front, clockwise
	Elevation float64 // degrees relative to the horizontal plane
	Distance  float64 // meters
	Intensity uint8
}

// SphericalToCartesian converts distance (meters), azimuth (degrees) and
// elevation (degrees) into Cartesian sensor-frame coordinates.
// Coordinate convention: X=right, Y=forward, Z=up.
func SphericalToCartesian(distance, azimuthDeg, elevationDeg float64) (x, y, z float64) {
	azimuthRad := azimuthDeg * math.Pi / 180.0
	elevationRad := elevationDeg * math.Pi / 180.0

	cosElevation := math.Cos(elevationRad)

	x = distance * cosElevation * math.Sin(azimuthRad)
	y = distance * cosElevation * math.Cos(azimuthRad)
	z = distance * math.Sin(elevationRad)
	return
}
