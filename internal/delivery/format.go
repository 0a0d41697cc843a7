package delivery

import (
	"strings"

	"weatherbot/internal/weather"
)

// FormatDay renders one forecast record as a report line.
func FormatDay(d weather.Day) string {
	var b strings.Builder
	b.WriteString(d.Date)
	b.WriteString("周")
	b.WriteString(d.Week)
	b.WriteString(" 天气预报：白天")
	b.WriteString(d.DayWeather)
	b.WriteString("，气温")
	b.WriteString(d.DayTemp)
	b.WriteString("°C ~ ")
	b.WriteString(d.NightTemp)
	b.WriteString(" °C, ")
	b.WriteString(d.DayWind)
	b.WriteString("风")
	b.WriteString(d.DayPower)
	b.WriteString("级；夜间")
	b.WriteString(d.NightWeather)
	b.WriteString("，")
	b.WriteString(d.NightWind)
	b.WriteString("风")
	b.WriteString(d.NightPower)
	b.WriteString("级。")
	return b.String()
}

// FormatReport renders the full multi-day report for a city.
func FormatReport(city string, days []weather.Day) string {
	var b strings.Builder
	b.WriteString("【")
	b.WriteString(city)
	b.WriteString("】")
	for _, d := range days {
		b.WriteString("\n")
		b.WriteString(FormatDay(d))
	}
	return b.String()
}
