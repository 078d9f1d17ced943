package models

import "math/rand"

// Per-member daily rations.
const (
	FoodPerMember  = 2
	WaterPerMember = 1
)

// DayReport summarizes what one travel tick did.
type DayReport struct {
	Miles    int
	Food     int
	Water    int
	Starving bool
	Thirsty  bool
	Expired  []Followup
}

// AdvanceDay runs one travel tick: the day advances, the wagon moves, the
// party eats and drinks, the environment changes and follow-ups whose window
// has closed are dropped.
func (s *GameState) AdvanceDay(rng *rand.Rand) DayReport {
	var r DayReport
	s.Day++
	s.DaysSinceEvent++

	miles := 12 + rng.Intn(7)
	if s.Environment.Weather == WeatherStorm {
		miles /= 2
	}
	if s.Environment.Biome == BiomeMountain {
		miles -= 3
	}
	if s.Resources[ResourceWagon] == 0 {
		miles = 0
	}
	miles = max(miles, 0)
	s.MilesTraveled += miles
	r.Miles = miles

	active := len(s.ActiveMembers())
	r.Food = min(s.Resources[ResourceFood], active*FoodPerMember)
	r.Water = min(s.Resources[ResourceWater], active*WaterPerMember)
	s.Resources[ResourceFood] -= r.Food
	s.Resources[ResourceWater] -= r.Water
	r.Starving = active > 0 && s.Resources[ResourceFood] == 0
	r.Thirsty = active > 0 && s.Resources[ResourceWater] == 0
	for _, i := range s.ActiveMembers() {
		m := &s.Party[i]
		if r.Starving {
			m.Health = clamp(m.Health-10, 0, 100)
		}
		if r.Thirsty {
			m.Health = clamp(m.Health-15, 0, 100)
		}
	}

	s.Environment.Biome = biomeAt(s.MilesTraveled)
	s.Environment.Weather = rollWeather(s.Environment.Biome, rng)

	kept := s.Followups[:0]
	for _, f := range s.Followups {
		if f.Expired(s.Day) {
			r.Expired = append(r.Expired, f)
			continue
		}
		kept = append(kept, f)
	}
	s.Followups = kept
	if len(s.Followups) == 0 {
		s.Followups = nil
	}
	return r
}

func biomeAt(miles int) Biome {
	switch {
	case miles < 400:
		return BiomePrairie
	case miles < 800:
		return BiomeRiver
	case miles < 1400:
		return BiomeMountain
	default:
		return BiomeForest
	}
}

func rollWeather(b Biome, rng *rand.Rand) Weather {
	n := rng.Intn(100)
	switch {
	case n < 60:
		return WeatherClear
	case n < 85:
		return WeatherRain
	case b == BiomeMountain:
		return WeatherSnow
	default:
		return WeatherStorm
	}
}
