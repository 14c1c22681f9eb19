// Package attachment is the platform-independent model of everything a chat
// message can carry besides its text.
//
// Every variant embeds Base for the fields all attachments share and adds its
// own payload next to it. Adapters dispatch on the concrete variant through
// Visitor so that adding a variant breaks every adapter that does not handle it.
package attachment

import (
	"fmt"
	"strings"
)

// Kind names an attachment variant. It is used for logs and metric labels.
type Kind string

const (
	KindFile         Kind = "file"
	KindPhoto        Kind = "photo"
	KindVideo        Kind = "video"
	KindAnimation    Kind = "animation"
	KindAudio        Kind = "audio"
	KindVoice        Kind = "voice"
	KindSticker      Kind = "sticker"
	KindContact      Kind = "contact"
	KindPlace        Kind = "place"
	KindLink         Kind = "link"
	KindPlatformItem Kind = "platform_item"
	KindAlbum        Kind = "album"
)

// Attachment is implemented by the variants of this package only.
type Attachment interface {
	Kind() Kind
	URL() string
	Meta() any
	// String renders the attachment as plain text. It is sent in place of
	// the attachment when the target platform cannot carry it natively.
	String() string
	Accept(v Visitor) error

	base() *Base
}

// Base holds the fields shared by all variants.
type Base struct {
	// SourceURL is where the content can be fetched from. It may also be an
	// opaque reference understood only by the originating platform.
	SourceURL string
	// ProviderMeta is the originating platform's native handle, if any.
	ProviderMeta any
	// PrivateURL marks URLs that embed credentials and must not be shown.
	PrivateURL bool
}

func (b *Base) URL() string { return b.SourceURL }
func (b *Base) Meta() any   { return b.ProviderMeta }
func (b *Base) base() *Base { return b }

// displayURL returns the URL if it may be shown to users.
func (b *Base) displayURL() string {
	if b.PrivateURL || strings.HasPrefix(b.SourceURL, "data:") {
		return ""
	}
	return b.SourceURL
}

// MarkPrivate hides a's URL from its String output and returns a.
func MarkPrivate(a Attachment) Attachment {
	a.base().PrivateURL = true
	return a
}

// Groupable attachments can be batched into one album send.
type Groupable interface {
	Attachment
	FileLike
	groupable()
}

// PlatformSpecial attachments are native objects of one platform (wall
// posts, market items) that other platforms can only show as a link.
type PlatformSpecial interface {
	Attachment
	Platform() string
}

// FileLike attachments carry downloadable file content.
type FileLike interface {
	Attachment
	Details() FileInfo
}

// Visitor dispatches on the concrete attachment variant.
type Visitor interface {
	VisitFile(*File) error
	VisitPhoto(*Photo) error
	VisitVideo(*Video) error
	VisitAnimation(*Animation) error
	VisitAudio(*Audio) error
	VisitVoice(*Voice) error
	VisitSticker(*Sticker) error
	VisitContact(*Contact) error
	VisitPlace(*Place) error
	VisitLink(*Link) error
	VisitPlatformItem(*PlatformItem) error
	VisitAlbum(*Album) error
}

// UnsupportedAttachmentError reports a native object that has no variant.
type UnsupportedAttachmentError struct {
	Kind string
}

func (e *UnsupportedAttachmentError) Error() string {
	return fmt.Sprintf("unsupported attachment kind %q", e.Kind)
}

// FormatError reports a malformed embedded payload such as vCard text.
type FormatError struct {
	Format string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Flatten expands albums into their items, keeping order. Nil entries are
// dropped.
func Flatten(list []Attachment) []Attachment {
	out := make([]Attachment, 0, len(list))
	for _, a := range list {
		if a == nil {
			continue
		}
		if album, ok := a.(*Album); ok {
			if album == nil {
				continue
			}
			for _, item := range album.Items {
				if item != nil {
					out = append(out, item)
				}
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

// Partition splits attachments into groupable and the rest, keeping order.
func Partition(list []Attachment) (groupable []Groupable, rest []Attachment) {
	for _, a := range Flatten(list) {
		if g, ok := a.(Groupable); ok {
			groupable = append(groupable, g)
			continue
		}
		rest = append(rest, a)
	}
	return groupable, rest
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var chunks [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		chunks = append(chunks, items[:n:n])
		items = items[n:]
	}
	return chunks
}

// join concatenates the non-empty parts with sep.
func join(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
