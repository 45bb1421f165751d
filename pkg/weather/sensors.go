package weather

import "github.com/menta2k/leaf-scanner/pkg/types"

// SensorReadings turns weather data into graded readings
func SensorReadings(w *types.WeatherData) []types.SensorReading {
	if w == nil {
		return []types.SensorReading{}
	}
	return []types.SensorReading{
		{
			ID:     "temp-1",
			Name:   "Temperature",
			Value:  w.Temperature,
			Unit:   "°C",
			Icon:   "temperature",
			Status: TemperatureStatus(w.Temperature),
		},
		{
			ID:     "humidity-1",
			Name:   "Humidity",
			Value:  w.Humidity,
			Unit:   "%",
			Icon:   "humidity",
			Status: HumidityStatus(w.Humidity),
		},
		{
			ID:     "temp-2",
			Name:   "Feels Like",
			Value:  w.ApparentTemperature,
			Unit:   "°C",
			Icon:   "temperature",
			Status: TemperatureStatus(w.ApparentTemperature),
		},
	}
}

// TemperatureStatus grades a temperature in °C
func TemperatureStatus(temp float64) types.SensorStatus {
	switch {
	case temp < 10 || temp > 40:
		return types.StatusCritical
	case temp < 15 || temp > 35:
		return types.StatusWarning
	default:
		return types.StatusNormal
	}
}

// HumidityStatus grades relative humidity in percent
func HumidityStatus(humidity float64) types.SensorStatus {
	switch {
	case humidity < 20 || humidity > 90:
		return types.StatusCritical
	case humidity < 30 || humidity > 80:
		return types.StatusWarning
	default:
		return types.StatusNormal
	}
}
