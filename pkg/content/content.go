// Package content normalizes heterogeneous user inputs into ordered,
// provider-neutral content parts. Callers hand a Multiplexer plain strings,
// file paths, URLs, raw bytes, pre-built parts, or arbitrary Go values; the
// multiplexer classifies each one exactly once and emits a tagged Part the
// provider adapters know how to render.
package content

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// PartKind identifies the variant of a Part.
type PartKind string

const (
	// KindText is plain text content.
	KindText PartKind = "text"
	// KindImage is inline image bytes.
	KindImage PartKind = "image"
	// KindPDF is an inline PDF document.
	KindPDF PartKind = "pdf"
	// KindFileRef references a file already uploaded to the provider.
	KindFileRef PartKind = "file_ref"
)

// ImageDetail is a routing hint for image resolution.
type ImageDetail string

const (
	DetailAuto ImageDetail = "auto"
	DetailLow  ImageDetail = "low"
	DetailHigh ImageDetail = "high"
)

// Part is one normalized unit of multimodal input. Exactly one variant is
// populated, selected by Kind; order of parts is conversation-semantically
// meaningful and preserved end to end.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text is set for KindText.
	Text string `json:"text,omitempty"`

	// Data and MIME are set for KindImage and KindPDF.
	Data []byte `json:"data,omitempty"`
	MIME string `json:"mime,omitempty"`

	// FileID is set for KindFileRef.
	FileID string `json:"file_id,omitempty"`

	// Name is the original file or value name, carried for model context.
	Name string `json:"name,omitempty"`

	// Detail is a provider hint for image resolution.
	Detail ImageDetail `json:"detail,omitempty"`

	// Citations asks providers that support it to emit document citations.
	Citations bool `json:"citations,omitempty"`
}

// Text creates a plain text part.
func Text(s string) Part {
	return Part{Kind: KindText, Text: s}
}

// Image creates an inline image part.
func Image(data []byte, mimeType string) Part {
	return Part{Kind: KindImage, Data: data, MIME: mimeType}
}

// PDF creates an inline PDF part.
func PDF(data []byte, name string) Part {
	return Part{Kind: KindPDF, Data: data, MIME: "application/pdf", Name: name}
}

// FileRef creates a part referencing a provider-hosted file.
func FileRef(fileID, name, mimeType string) Part {
	return Part{Kind: KindFileRef, FileID: fileID, Name: name, MIME: mimeType}
}

// Base64 returns the part's binary payload encoded for JSON wire formats.
func (p Part) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// Path marks a string as a local filesystem path to be classified by MIME.
type Path string

// URL marks a string as a remote resource to fetch and classify.
type URL string

// imageMIMEs are the inline image types accepted by all supported backends.
var imageMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ClassifyMIME resolves a MIME type from a file name and a sample of its
// bytes. The extension wins when registered; otherwise the content is
// sniffed.
func ClassifyMIME(name string, sample []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if typ := mime.TypeByExtension(ext); typ != "" {
			if i := strings.IndexByte(typ, ';'); i >= 0 {
				typ = typ[:i]
			}
			return typ
		}
	}
	return http.DetectContentType(sample)
}

// partFromBytes classifies raw bytes into an image, PDF, or text part.
// Structured-data types (JSON, YAML, CSV, XML) are kept as text so the model
// sees them verbatim. Unclassifiable binary content is an error: silently
// dropping user intent is never acceptable here.
func partFromBytes(name string, data []byte) (Part, error) {
	mimeType := ClassifyMIME(name, data)
	switch {
	case imageMIMEs[mimeType]:
		p := Image(data, mimeType)
		p.Name = name
		return p, nil
	case mimeType == "application/pdf":
		return PDF(data, name), nil
	case strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/json",
		mimeType == "application/xml",
		strings.HasSuffix(mimeType, "+json"),
		strings.HasSuffix(mimeType, "+xml"),
		mimeType == "application/x-yaml":
		p := Text(string(data))
		p.Name = name
		return p, nil
	default:
		return Part{}, fmt.Errorf("content %q: unsupported MIME type %q", name, mimeType)
	}
}

// wrapValue serializes an arbitrary Go value as text for model context.
// JSON is preferred; values that cannot be marshaled fall back to a
// descriptive dump rather than being dropped.
func wrapValue(v any) Part {
	typeName := fmt.Sprintf("%T", v)
	data, err := json.Marshal(v)
	var body string
	if err != nil {
		body = fmt.Sprintf("%+v", v)
	} else {
		body = string(data)
	}
	return Text(fmt.Sprintf("[%s value]\n%s", typeName, body))
}
