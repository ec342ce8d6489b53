package openweather

// oneCallResponse mirrors the subset of the One Call 3.0 document we use.
// Pointers distinguish "absent" from zero so malformed entries can be
// reported downstream instead of silently becoming 0 K.
type oneCallResponse struct {
	Lat            float64         `json:"lat"`
	Lon            float64         `json:"lon"`
	Timezone       string          `json:"timezone"`
	TimezoneOffset int             `json:"timezone_offset"`
	Current        *currentWeather `json:"current"`
	Hourly         []hourlyWeather `json:"hourly"`
	Daily          []dailyWeather  `json:"daily"`
}

type condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type precipHour struct {
	OneHour *float64 `json:"1h"`
}

type currentWeather struct {
	Dt        *int64      `json:"dt"`
	Temp      *float64    `json:"temp"`
	FeelsLike *float64    `json:"feels_like"`
	Humidity  *float64    `json:"humidity"`
	WindSpeed *float64    `json:"wind_speed"`
	Weather   []condition `json:"weather"`
	Rain      *precipHour `json:"rain"`
	Snow      *precipHour `json:"snow"`
}

type hourlyWeather struct {
	Dt        *int64      `json:"dt"`
	Temp      *float64    `json:"temp"`
	FeelsLike *float64    `json:"feels_like"`
	Humidity  *float64    `json:"humidity"`
	WindSpeed *float64    `json:"wind_speed"`
	Pop       *float64    `json:"pop"`
	Weather   []condition `json:"weather"`
	Rain      *precipHour `json:"rain"`
	Snow      *precipHour `json:"snow"`
}

type dailyTemp struct {
	Day *float64 `json:"day"`
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

type dailyFeelsLike struct {
	Day *float64 `json:"day"`
}

type dailyWeather struct {
	Dt        *int64          `json:"dt"`
	Summary   string          `json:"summary"`
	Temp      *dailyTemp      `json:"temp"`
	FeelsLike *dailyFeelsLike `json:"feels_like"`
	Humidity  *float64        `json:"humidity"`
	WindSpeed *float64        `json:"wind_speed"`
	Pop       *float64        `json:"pop"`
	Rain      *float64        `json:"rain"`
	Snow      *float64        `json:"snow"`
	Weather   []condition     `json:"weather"`
}
