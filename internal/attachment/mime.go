package attachment

import (
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Types the Go runtime does not know without a system mime.types file.
var extraTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".tgs":  "application/x-tgsticker",
	".vcf":  "text/vcard",
	".zip":  "application/zip",
	".txt":  "text/plain",
}

func init() {
	for ext, typ := range extraTypes {
		_ = mime.AddExtensionType(ext, typ)
	}
}

// LookupMimeType returns the MIME type for the extension of name, or "".
func LookupMimeType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return ""
	}
	return baseMimeType(mime.TypeByExtension(ext))
}

// ExtensionForMime returns the usual extension, with the dot, for a MIME type.
func ExtensionForMime(mimeType string) string {
	mimeType = baseMimeType(mimeType)
	if mimeType == "" || mimeType == defaultMimeType {
		return ""
	}
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// baseMimeType drops parameters and lowercases.
func baseMimeType(t string) string {
	t, _, _ = strings.Cut(t, ";")
	return strings.ToLower(strings.TrimSpace(t))
}
