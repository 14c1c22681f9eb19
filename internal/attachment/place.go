package attachment

import "github.com/dustin/go-humanize"

// Place is a geographic point, optionally a named venue.
type Place struct {
	Base
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

// NewPlace builds a place whose URL points at a map.
func NewPlace(lat, lon float64, name, address string, meta any) *Place {
	return &Place{
		Base:      Base{SourceURL: MapURL(lat, lon), ProviderMeta: meta},
		Latitude:  lat,
		Longitude: lon,
		Name:      name,
		Address:   address,
	}
}

// MapURL links to the coordinates on Google Maps.
func MapURL(lat, lon float64) string {
	return "https://maps.google.com/maps?t=m&q=loc:" +
		humanize.FtoaWithDigits(lat, 8) + "+" + humanize.FtoaWithDigits(lon, 8)
}

// IsVenue reports whether the place has both a name and an address.
func (p *Place) IsVenue() bool { return p.Name != "" && p.Address != "" }

func (p *Place) Kind() Kind             { return KindPlace }
func (p *Place) Accept(v Visitor) error { return v.VisitPlace(p) }
func (p *Place) String() string {
	return join(" ", "📍", join(", ", p.Name, p.Address), p.displayURL())
}
