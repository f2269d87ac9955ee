package vehicle

// vinYears maps VIN position 10 to the model year.
var vinYears = map[byte]int{
	'A': 2010, 'B': 2011, 'C': 2012, 'D': 2013,
	'E': 2014, 'F': 2015, 'G': 2016, 'H': 2017,
	'J': 2018, 'K': 2019, 'L': 2020, 'M': 2021,
	'N': 2022, 'P': 2023, 'R': 2024, 'S': 2025,
	'T': 2026,
}

// vinModels maps VIN position 4 to the model line.
var vinModels = map[byte]string{
	'S': "Model S",
	'3': "Model 3",
	'X': "Model X",
	'Y': "Model Y",
	'R': "Roadster",
	'C': "Cybertruck",
	'T': "Semi",
}

// ModelYearFromVIN decodes the model year, or 0 when the VIN is too short or
// the year code is unknown.
func ModelYearFromVIN(vin string) int {
	if len(vin) < 10 {
		return 0
	}
	return vinYears[vin[9]]
}

// ModelFromVIN decodes the model line, or "" when unknown.
func ModelFromVIN(vin string) string {
	if len(vin) < 4 {
		return ""
	}
	return vinModels[vin[3]]
}
