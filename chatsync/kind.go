package chatsync

import "fmt"

// Kind is the closed set of message variants.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindFile     Kind = "file"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindLocation Kind = "location"
	KindDocument Kind = "document"
	KindSystem   Kind = "system"
)

var kinds = []Kind{KindText, KindImage, KindFile, KindAudio, KindVideo, KindLocation, KindDocument, KindSystem}

// ParseKind validates s. The empty string maps to KindText.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindText, nil
	}
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown message kind %q", s)
}

// KindHandlers holds one function per variant. Nil entries fall back to
// Default; a nil Default yields the zero value.
type KindHandlers[T any] struct {
	Text     func(Message) T
	Image    func(Message) T
	File     func(Message) T
	Audio    func(Message) T
	Video    func(Message) T
	Location func(Message) T
	Document func(Message) T
	System   func(Message) T
	Default  func(Message) T
}

// Dispatch resolves the handler for m.Kind. Every switch on message kinds
// goes through here.
func Dispatch[T any](m Message, h KindHandlers[T]) T {
	var fn func(Message) T
	switch m.Kind {
	case KindText, "":
		fn = h.Text
	case KindImage:
		fn = h.Image
	case KindFile:
		fn = h.File
	case KindAudio:
		fn = h.Audio
	case KindVideo:
		fn = h.Video
	case KindLocation:
		fn = h.Location
	case KindDocument:
		fn = h.Document
	case KindSystem:
		fn = h.System
	}
	if fn == nil {
		fn = h.Default
	}
	if fn == nil {
		var zero T
		return zero
	}
	return fn(m)
}

func label(s string) func(Message) string {
	return func(Message) string { return s }
}

var previewHandlers = KindHandlers[string]{
	Text:     func(m Message) string { return m.Content },
	Image:    label("Photo"),
	File:     label("Fichier"),
	Audio:    label("Message vocal"),
	Video:    label("Vidéo"),
	Location: label("Position"),
	Document: label("Document"),
	System:   func(m Message) string { return m.Content },
	Default:  func(m Message) string { return m.Content },
}

// Preview is the one-line summary shown in the conversation directory.
func Preview(m Message) string {
	return Dispatch(m, previewHandlers)
}
