package maps

import "slices"

// PlaceDetails is the subset of a Places result the location resolver needs.
type PlaceDetails struct {
	PlaceID           string
	FormattedAddress  string
	Location          LatLng
	AddressComponents []AddressComponent
}

type LatLng struct {
	Latitude  float64
	Longitude float64
}

type AddressComponent struct {
	LongName  string
	ShortName string
	Types     []string
}

// cityKinds lists component types that can stand in for a city, most specific first.
var cityKinds = []string{"locality", "postal_town", "sublocality_level_1", "administrative_area_level_2"}

// City returns the locality, or the closest administrative stand-in.
func (p PlaceDetails) City() string {
	for _, kind := range cityKinds {
		if name := p.component(kind); name != "" {
			return name
		}
	}
	return ""
}

// Region returns the first-level administrative area, e.g. a state.
func (p PlaceDetails) Region() string {
	return p.component("administrative_area_level_1")
}

func (p PlaceDetails) component(kind string) string {
	for _, comp := range p.AddressComponents {
		if slices.Contains(comp.Types, kind) {
			return comp.LongName
		}
	}
	return ""
}

type apiPlace struct {
	ID               string `json:"id"`
	FormattedAddress string `json:"formattedAddress"`
	Location         struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	AddressComponents []struct {
		LongText  string   `json:"longText"`
		ShortText string   `json:"shortText"`
		Types     []string `json:"types"`
	} `json:"addressComponents"`
}

func (p apiPlace) details() PlaceDetails {
	out := PlaceDetails{
		PlaceID:          p.ID,
		FormattedAddress: p.FormattedAddress,
		Location:         LatLng{Latitude: p.Location.Latitude, Longitude: p.Location.Longitude},
	}
	for _, c := range p.AddressComponents {
		out.AddressComponents = append(out.AddressComponents, AddressComponent{LongName: c.LongText, ShortName: c.ShortText, Types: c.Types})
	}
	return out
}
