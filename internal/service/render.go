package service

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/tazhate/weathercal/internal/domain"
)

const DefaultSummaryTemplate = `{{.Emoji}} {{capitalize .Description}}, ` +
	`{{if .HasRange}}{{round .TempMin}}°~{{round .TempMax}}°C{{else}}{{round .Temperature}}°C{{end}}`

const DefaultBodyTemplate = `Conditions: {{.Description}}
Temperature: {{one .Temperature}}°C
{{- if .HasFeelsLike}}
Feels like: {{one .FeelsLike}}°C
{{- end}}
{{- if .HasRange}}
Min/Max: {{one .TempMin}}°C / {{one .TempMax}}°C
{{- end}}
{{- if .HasHumidity}}
Humidity: {{round .Humidity}}%
{{- end}}
{{- if .HasWind}}
Wind: {{one .WindSpeed}} m/s
{{- end}}
{{- if .HasPrecip}}
Precipitation: {{percent .PrecipProbability}}%
{{- end}}
{{- if gt .Rain 0.0}}
Rain: {{one .Rain}} mm
{{- end}}
{{- if gt .Snow 0.0}}
Snow: {{one .Snow}} mm
{{- end}}
{{- if .Summary}}

{{.Summary}}
{{- end}}`

var weatherEmoji = map[string]string{
	"clear":            "☀️",
	"clear sky":        "☀️",
	"few clouds":       "🌤️",
	"scattered clouds": "⛅",
	"broken clouds":    "☁️",
	"overcast clouds":  "☁️",
	"shower rain":      "🌦️",
	"light rain":       "🌧️",
	"moderate rain":    "🌧️",
	"rain":             "🌧️",
	"heavy rain":       "🌧️",
	"thunderstorm":     "⛈️",
	"light snow":       "🌨️",
	"snow":             "❄️",
	"heavy snow":       "❄️",
	"mist":             "🌫️",
	"fog":              "🌫️",
	"haze":             "🌫️",
}

// WeatherEmoji returns the emoji for an OpenWeatherMap description.
func WeatherEmoji(description string) string {
	if e, ok := weatherEmoji[strings.ToLower(strings.TrimSpace(description))]; ok {
		return e
	}
	return "🌡"
}

// slotView is what templates see: plain values plus presence flags.
type slotView struct {
	Index       int
	Time        time.Time
	Date        string
	Hour        string
	AllDay      bool
	IsCurrent   bool
	Description string
	Summary     string
	Emoji       string
	Code        int

	Temperature       float64
	FeelsLike         float64
	TempMin           float64
	TempMax           float64
	Humidity          float64
	WindSpeed         float64
	PrecipProbability float64
	Rain              float64
	Snow              float64

	HasFeelsLike bool
	HasRange     bool
	HasHumidity  bool
	HasWind      bool
	HasPrecip    bool
}

func newSlotView(s domain.ForecastSlot, start time.Time) slotView {
	v := slotView{
		Index:       s.Index,
		Time:        start,
		Date:        start.Format("2006-01-02"),
		Hour:        start.Format("15:04"),
		AllDay:      s.AllDay,
		IsCurrent:   s.IsCurrent,
		Description: s.Description,
		Summary:     s.Summary,
		Emoji:       WeatherEmoji(s.Description),
		Code:        s.ConditionCode,
		Temperature: deref(s.Temperature),
		FeelsLike:   deref(s.FeelsLike),
		TempMin:     deref(s.TempMin),
		TempMax:     deref(s.TempMax),
		Humidity:    deref(s.Humidity),
		WindSpeed:   deref(s.WindSpeed),
		Rain:        deref(s.RainMM),
		Snow:        deref(s.SnowMM),

		HasFeelsLike: s.FeelsLike != nil,
		HasRange:     s.HasRange(),
		HasHumidity:  s.Humidity != nil,
		HasWind:      s.WindSpeed != nil,
		HasPrecip:    s.PrecipProbability != nil,
	}
	v.PrecipProbability = deref(s.PrecipProbability)
	if v.Summary == v.Description {
		v.Summary = ""
	}
	return v
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

var templateFuncs = template.FuncMap{
	"round":   func(v float64) string { return fmt.Sprintf("%.0f", v) },
	"one":     func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"percent": func(v float64) string { return fmt.Sprintf("%.0f", v*100) },
	"capitalize": func(s string) string {
		if s == "" {
			return s
		}
		r := []rune(s)
		return strings.ToUpper(string(r[0])) + string(r[1:])
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

func parseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return t, nil
}

func render(t *template.Template, v slotView) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, v); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}
