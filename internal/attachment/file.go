package attachment

import (
	"net/url"
	"path"
	"strings"
)

const (
	defaultFileName = "noname"
	defaultMimeType = "application/octet-stream"
)

// FileInfo describes downloadable content.
type FileInfo struct {
	Name     string
	MimeType string
	Size     int64
	Caption  string
}

// MediaInfo describes playable or visual content.
type MediaInfo struct {
	Duration int // seconds
	Width    int
	Height   int
}

// normalize fills the name and MIME type from the URL and from each other.
// A MIME type that disagrees with the name's extension gets its own extension
// appended so that receivers recognize the file.
func (f FileInfo) normalize(rawURL, fallbackMime string) FileInfo {
	if f.Name == "" {
		f.Name = nameFromURL(rawURL)
	}
	if f.Name == "" {
		f.Name = defaultFileName
	}
	f.MimeType = baseMimeType(f.MimeType)
	byName := LookupMimeType(f.Name)
	switch {
	case f.MimeType == "" && byName != "":
		f.MimeType = byName
	case f.MimeType == "":
		f.MimeType = fallbackMime
	case byName != f.MimeType:
		if ext := ExtensionForMime(f.MimeType); ext != "" && !strings.EqualFold(path.Ext(f.Name), ext) {
			f.Name += ext
		}
	}
	return f
}

func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "data" {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

func fileString(icon string, b *Base, f FileInfo, extra ...string) string {
	size := ""
	if f.Size > 0 {
		size = "(" + ReadableFileSize(f.Size) + ")"
	}
	parts := append([]string{icon}, extra...)
	parts = append(parts, size, b.displayURL())
	return join("\n", join(" ", parts...), f.Caption)
}

// File is a generic document.
type File struct {
	Base
	FileInfo
}

// NewFile builds a document, deriving missing name and MIME type.
func NewFile(rawURL string, info FileInfo, meta any) *File {
	return &File{
		Base:     Base{SourceURL: rawURL, ProviderMeta: meta},
		FileInfo: info.normalize(rawURL, defaultMimeType),
	}
}

func (f *File) Kind() Kind             { return KindFile }
func (f *File) Details() FileInfo      { return f.FileInfo }
func (f *File) Accept(v Visitor) error { return v.VisitFile(f) }
func (f *File) String() string         { return fileString("📎", &f.Base, f.FileInfo, f.Name) }

// Photo is a still image.
type Photo struct {
	Base
	FileInfo
	Width       int
	Height      int
	Description string
}

func NewPhoto(rawURL string, info FileInfo, meta any) *Photo {
	return &Photo{
		Base:     Base{SourceURL: rawURL, ProviderMeta: meta},
		FileInfo: info.normalize(rawURL, "image/jpeg"),
	}
}

func (p *Photo) Kind() Kind             { return KindPhoto }
func (p *Photo) Details() FileInfo      { return p.FileInfo }
func (p *Photo) Accept(v Visitor) error { return v.VisitPhoto(p) }
func (p *Photo) groupable()             {}
func (p *Photo) String() string {
	return fileString("🖼", &p.Base, p.FileInfo, p.Description)
}

// Video is a video clip.
type Video struct {
	Base
	FileInfo
	MediaInfo
	Title string
}

func NewVideo(rawURL string, info FileInfo, media MediaInfo, meta any) *Video {
	return &Video{
		Base:      Base{SourceURL: rawURL, ProviderMeta: meta},
		FileInfo:  info.normalize(rawURL, "video/mp4"),
		MediaInfo: media,
	}
}

func (v *Video) Kind() Kind               { return KindVideo }
func (v *Video) Details() FileInfo        { return v.FileInfo }
func (v *Video) Accept(vis Visitor) error { return vis.VisitVideo(v) }
func (v *Video) groupable()               {}
func (v *Video) String() string {
	return fileString("🎬", &v.Base, v.FileInfo, v.Title, durationTag(v.Duration))
}

// Animation is a silent looping clip such as a GIF.
type Animation struct {
	Base
	FileInfo
	MediaInfo
}

func NewAnimation(rawURL string, info FileInfo, media MediaInfo, meta any) *Animation {
	return &Animation{
		Base:      Base{SourceURL: rawURL, ProviderMeta: meta},
		FileInfo:  info.normalize(rawURL, "video/mp4"),
		MediaInfo: media,
	}
}

func (a *Animation) Kind() Kind             { return KindAnimation }
func (a *Animation) Details() FileInfo      { return a.FileInfo }
func (a *Animation) Accept(v Visitor) error { return v.VisitAnimation(a) }
func (a *Animation) String() string         { return fileString("🎞", &a.Base, a.FileInfo) }

// TrackInfo describes a music track.
type TrackInfo struct {
	Title     string
	Performer string
	Duration  int // seconds
}

// Audio is a music track.
type Audio struct {
	Base
	FileInfo
	TrackInfo
}

func NewAudio(rawURL string, info FileInfo, track TrackInfo, meta any) *Audio {
	return &Audio{
		Base:      Base{SourceURL: rawURL, ProviderMeta: meta},
		FileInfo:  info.normalize(rawURL, "audio/mpeg"),
		TrackInfo: track,
	}
}

func (a *Audio) Kind() Kind             { return KindAudio }
func (a *Audio) Details() FileInfo      { return a.FileInfo }
func (a *Audio) Accept(v Visitor) error { return v.VisitAudio(a) }

// DisplayTitle is "performer - title" or whichever of them is known.
func (a *Audio) DisplayTitle() string {
	if t := join(" - ", a.Performer, a.TrackInfo.Title); t != "" {
		return t
	}
	return a.Name
}

func (a *Audio) String() string {
	return fileString("🎵", &a.Base, a.FileInfo, a.DisplayTitle(), durationTag(a.Duration))
}

// Voice is a recorded voice message.
type Voice struct {
	Base
	FileInfo
	Duration int // seconds
}

func NewVoice(rawURL string, info FileInfo, duration int, meta any) *Voice {
	return &Voice{
		Base:     Base{SourceURL: rawURL, ProviderMeta: meta},
		FileInfo: info.normalize(rawURL, "audio/ogg"),
		Duration: duration,
	}
}

func (v *Voice) Kind() Kind               { return KindVoice }
func (v *Voice) Details() FileInfo        { return v.FileInfo }
func (v *Voice) Accept(vis Visitor) error { return vis.VisitVoice(v) }
func (v *Voice) String() string {
	return fileString("🎤", &v.Base, v.FileInfo, durationTag(v.Duration))
}

// Sticker is a small image, or an animation for animated sticker sets.
type Sticker struct {
	Base
	FileInfo
	Emoji    string
	Animated bool
}

func NewSticker(rawURL string, info FileInfo, emoji string, meta any) *Sticker {
	return &Sticker{
		Base:     Base{SourceURL: rawURL, ProviderMeta: meta},
		FileInfo: info.normalize(rawURL, "image/webp"),
		Emoji:    emoji,
	}
}

func (s *Sticker) Kind() Kind             { return KindSticker }
func (s *Sticker) Details() FileInfo      { return s.FileInfo }
func (s *Sticker) Accept(v Visitor) error { return v.VisitSticker(s) }
func (s *Sticker) String() string {
	return join(" ", "Sticker", s.Emoji, s.displayURL())
}

func durationTag(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	return "(" + ReadableDuration(seconds) + ")"
}
