package attachment

import "strings"

// Album is an ordered set of photos and videos sent together.
type Album struct {
	Base
	Items []Groupable
}

func NewAlbum(items []Groupable, meta any) *Album {
	return &Album{
		Base:  Base{ProviderMeta: meta},
		Items: append([]Groupable(nil), items...),
	}
}

func (a *Album) Kind() Kind             { return KindAlbum }
func (a *Album) Accept(v Visitor) error { return v.VisitAlbum(a) }
func (a *Album) String() string {
	lines := make([]string, 0, len(a.Items))
	for _, item := range a.Items {
		if item != nil {
			lines = append(lines, item.String())
		}
	}
	return strings.Join(lines, "\n")
}
