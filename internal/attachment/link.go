package attachment

// Link is a URL with an optional title.
type Link struct {
	Base
	Title string
}

func NewLink(rawURL, title string, meta any) *Link {
	return &Link{Base: Base{SourceURL: rawURL, ProviderMeta: meta}, Title: title}
}

func (l *Link) Kind() Kind             { return KindLink }
func (l *Link) Accept(v Visitor) error { return v.VisitLink(l) }
func (l *Link) String() string         { return join("\n", l.Title, l.displayURL()) }

// PlatformItem is a native object of one platform, like a VK wall post or
// market item, that other platforms receive as its link and caption.
type PlatformItem struct {
	Base
	Origin   string
	ItemKind string
	Title    string
	Caption  string
}

func NewPlatformItem(origin, itemKind, rawURL, title, caption string, meta any) *PlatformItem {
	return &PlatformItem{
		Base:     Base{SourceURL: rawURL, ProviderMeta: meta},
		Origin:   origin,
		ItemKind: itemKind,
		Title:    title,
		Caption:  caption,
	}
}

func (p *PlatformItem) Kind() Kind             { return KindPlatformItem }
func (p *PlatformItem) Accept(v Visitor) error { return v.VisitPlatformItem(p) }
func (p *PlatformItem) Platform() string       { return p.Origin }
func (p *PlatformItem) String() string {
	return join("\n", p.Title, p.Caption, p.displayURL())
}
