package chatsync

// Severity of a toast.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Toast is a non-blocking user notification.
type Toast struct {
	Severity Severity
	Title    string
	Detail   string
}

// Notifier surfaces toasts to the UI layer.
type Notifier interface {
	Notify(Toast)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Toast)

func (f NotifierFunc) Notify(t Toast) { f(t) }

type discard struct{}

func (discard) Notify(Toast) {}

// Discard drops every toast.
var Discard Notifier = discard{}
