package http

import (
	"encoding/json"
	"html/template"
	"net/http"

	"participation/internal/core"
)

// messagesTarget is the element every error response is swapped into.
const messagesTarget = "#messages"

// HTMXResponseBuilder assembles an HTML fragment plus the HX-* headers that
// tell the editor page what changed.
type HTMXResponseBuilder struct {
	events  map[string]any
	status  int
	html    string
	headers http.Header
}

func NewHTMXResponse() *HTMXResponseBuilder {
	return &HTMXResponseBuilder{
		events:  map[string]any{},
		status:  http.StatusOK,
		headers: http.Header{},
	}
}

func (b *HTMXResponseBuilder) Status(code int) *HTMXResponseBuilder {
	b.status = code
	return b
}

// Trigger queues a client-side event for the HX-Trigger header. A second
// call with the same name replaces the payload.
func (b *HTMXResponseBuilder) Trigger(name string, payload any) *HTMXResponseBuilder {
	b.events[name] = payload
	return b
}

type monthEvent struct {
	EmployeeID string `json:"employeeId"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
}

func newMonthEvent(key core.MonthKey) monthEvent {
	return monthEvent{EmployeeID: key.EmployeeID, Year: key.Year, Month: key.Month}
}

func (b *HTMXResponseBuilder) TriggerMonthSaved(key core.MonthKey) *HTMXResponseBuilder {
	return b.Trigger("month:saved", newMonthEvent(key))
}

func (b *HTMXResponseBuilder) TriggerSessionOpened(key core.MonthKey) *HTMXResponseBuilder {
	return b.Trigger("session:opened", newMonthEvent(key))
}

func (b *HTMXResponseBuilder) TriggerSessionClosed() *HTMXResponseBuilder {
	return b.Trigger("session:closed", struct{}{})
}

// TriggerRowFormReset clears the add-row form after a row was accepted.
func (b *HTMXResponseBuilder) TriggerRowFormReset() *HTMXResponseBuilder {
	return b.Trigger("row-form:reset", struct{}{})
}

// NotificationType selects the toast style in app.js.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
)

type notification struct {
	Type     NotificationType `json:"type"`
	Message  string           `json:"message"`
	Duration int              `json:"duration"`
}

// TriggerNotification shows a toast for durationMs milliseconds.
func (b *HTMXResponseBuilder) TriggerNotification(kind NotificationType, message string, durationMs int) *HTMXResponseBuilder {
	return b.Trigger("show-notification", notification{Type: kind, Message: message, Duration: durationMs})
}

func (b *HTMXResponseBuilder) TriggerSuccessNotification(message string) *HTMXResponseBuilder {
	return b.TriggerNotification(NotificationSuccess, message, 3000)
}

// Retarget swaps the response into selector instead of the request target.
func (b *HTMXResponseBuilder) Retarget(selector string) *HTMXResponseBuilder {
	b.headers.Set("HX-Retarget", selector)
	b.headers.Set("HX-Reswap", "innerHTML")
	return b
}

func (b *HTMXResponseBuilder) BodyHTML(html string) *HTMXResponseBuilder {
	b.headers.Set("Content-Type", "text/html; charset=utf-8")
	b.html = html
	return b
}

func (b *HTMXResponseBuilder) Write(w http.ResponseWriter) {
	h := w.Header()
	for name, values := range b.headers {
		h[name] = values
	}
	if len(b.events) > 0 {
		if encoded, err := json.Marshal(b.events); err == nil {
			h.Set("HX-Trigger", string(encoded))
		}
	}

	w.WriteHeader(b.status)
	if b.html != "" {
		_, _ = w.Write([]byte(b.html))
	}
}

// ErrorResponse renders message into the page's message area. The message is
// escaped; callers may pass error text that echoes user input.
func ErrorResponse(status int, message string) *HTMXResponseBuilder {
	return NewHTMXResponse().
		Status(status).
		Retarget(messagesTarget).
		BodyHTML(`<div class="error" role="alert">` + template.HTMLEscapeString(message) + `</div>`)
}

func BadRequestError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func InternalServerError(message string) *HTMXResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}
