package llm

import (
	"encoding/base64"
	"net/http"
	"path/filepath"
	"strings"
)

const defaultImageMIMEType = "image/jpeg"

// imageMIMETypes maps upload suffixes to the MIME types vision models accept.
var imageMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
}

// Image is an inline image attachment.
type Image struct {
	MIMEType string
	Data     []byte
}

// NewImage builds an Image, resolving its MIME type from the explicit
// mimeType, then the filename suffix, then the content itself.
func NewImage(data []byte, filename, mimeType string) Image {
	return Image{MIMEType: DetectImageType(data, filename, mimeType), Data: data}
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URL suitable for image_url payloads.
func (i Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = defaultImageMIMEType
	}
	return "data:" + mime + ";base64," + i.Base64()
}

// DetectImageType resolves the MIME type of an image upload.
func DetectImageType(data []byte, filename, mimeType string) string {
	if strings.HasPrefix(mimeType, "image/") {
		return mimeType
	}
	if filename != "" {
		if mime, ok := imageMIMETypes[strings.ToLower(filepath.Ext(filename))]; ok {
			return mime
		}
	}
	if len(data) > 0 {
		if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
			return sniffed
		}
	}
	return defaultImageMIMEType
}
