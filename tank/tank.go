package tank

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ID identifies one of the two tanks.
type ID int

const (
	A ID = iota
	B
)

// IDs lists the tanks in sampling order.
var IDs = []ID{A, B}

func (id ID) String() string {
	switch id {
	case A:
		return "A"
	case B:
		return "B"
	}
	return fmt.Sprintf("ID(%d)", int(id))
}

// ParseID accepts "a" or "b", in any case.
func ParseID(s string) (ID, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return A, nil
	case "B":
		return B, nil
	}
	return 0, fmt.Errorf("unknown tank '%s'", s)
}

// Geometry of a tank, assumed to be a right cylinder. Both tanks share the same geometry.
type Geometry struct {
	RadiusCm float64 `mapstructure:"radius-cm"`
	HeightCm float64 `mapstructure:"height-cm"`
}

// Calibration holds the sensor constants used to turn an echo into a distance.
// SensorOffsetCm is the standoff of the sensor above the theoretical top of the tank.
type Calibration struct {
	SoundSpeed     float64 `mapstructure:"sound-speed"`
	SensorOffsetCm float64 `mapstructure:"sensor-offset-cm"`
}

func DefaultGeometry() Geometry {
	return Geometry{
		RadiusCm: 2.4,
		HeightCm: 7.9,
	}
}

func DefaultCalibration() Calibration {
	return Calibration{
		SoundSpeed:     340,
		SensorOffsetCm: 0.7,
	}
}

// Estimator converts echo durations into liquid heights and volumes.
type Estimator struct {
	Geometry
	Calibration
}

func NewEstimator(g Geometry, c Calibration) Estimator {
	return Estimator{Geometry: g, Calibration: c}
}

// DistanceFromEcho returns the one way distance in cm for a round trip echo duration.
// With the speed in m/s and the duration in us the round trip halving gives a divisor of 20000.
func (e Estimator) DistanceFromEcho(d time.Duration) float64 {
	us := float64(d) / float64(time.Microsecond)
	return e.SoundSpeed * us / 20000
}

// HeightFromEcho returns the liquid height in cm. A misread can give a negative height, this is
// passed through rather than clamped.
func (e Estimator) HeightFromEcho(d time.Duration) float64 {
	return e.Geometry.HeightCm - (e.DistanceFromEcho(d) - e.SensorOffsetCm)
}

// VolumeFromHeight returns the volume in cm^3 of liquid at the given height.
func (e Estimator) VolumeFromHeight(h float64) float64 {
	return h * math.Pi * e.RadiusCm * e.RadiusCm
}

// Capacity is the geometric volume of a full tank.
func (e Estimator) Capacity() float64 {
	return e.VolumeFromHeight(e.Geometry.HeightCm)
}

// Reading builds a reading for a tank from a measured echo duration.
func (e Estimator) Reading(id ID, d time.Duration) Reading {
	h := e.HeightFromEcho(d)
	return Reading{
		Tank:      id,
		Echo:      d,
		HeightCm:  h,
		VolumeCm3: e.VolumeFromHeight(h),
	}
}

// Reading is a single sample of a tank. Err is set when the sensor failed, in which case the
// height and volume are meaningless.
type Reading struct {
	Tank      ID
	Echo      time.Duration
	HeightCm  float64
	VolumeCm3 float64
	Err       error
}

// FailedReading records a sensor failure for a tank.
func FailedReading(id ID, err error) Reading {
	return Reading{Tank: id, Err: err}
}

func (r Reading) Valid() bool {
	return r.Err == nil
}

func (r Reading) String() string {
	if !r.Valid() {
		return fmt.Sprintf("tank %s: %v", r.Tank, r.Err)
	}
	return fmt.Sprintf("tank %s: echo %s, height %.2fcm, volume %.2fcm3", r.Tank, r.Echo, r.HeightCm, r.VolumeCm3)
}
