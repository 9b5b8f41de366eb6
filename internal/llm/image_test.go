package llm

import "testing"

func TestDetectImageType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	tests := []struct {
		name     string
		data     []byte
		filename string
		mime     string
		want     string
	}{
		{"explicit mime wins", png, "photo.jpg", "image/webp", "image/webp"},
		{"non-image mime ignored", nil, "photo.PNG", "application/octet-stream", "image/png"},
		{"suffix", nil, "rash.jpeg", "", "image/jpeg"},
		{"heic suffix", nil, "IMG_0001.heic", "", "image/heic"},
		{"sniffed", png, "upload", "", "image/png"},
		{"default", []byte("plain text"), "", "", "image/jpeg"},
		{"empty", nil, "", "", "image/jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectImageType(tt.data, tt.filename, tt.mime); got != tt.want {
				t.Fatalf("DetectImageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestImage_DataURL(t *testing.T) {
	img := NewImage([]byte("hi"), "x.gif", "")
	if got := img.DataURL(); got != "data:image/gif;base64,aGk=" {
		t.Fatalf("DataURL() = %q", got)
	}
	if got := (Image{Data: []byte("hi")}).DataURL(); got != "data:image/jpeg;base64,aGk=" {
		t.Fatalf("DataURL() without mime = %q", got)
	}
}
