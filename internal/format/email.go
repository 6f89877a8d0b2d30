package format

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/hray3182/LifeMoments/internal/models"
	"github.com/hray3182/LifeMoments/internal/schedule"
)

//go:embed templates/*.html
var templatesFS embed.FS

var reminderTmpl = template.Must(template.ParseFS(templatesFS, "templates/reminder.html"))

// ReminderEmailData is what the reminder email shows.
type ReminderEmailData struct {
	Title      string
	EventType  string
	Relation   string
	Notes      string
	Date       string
	Recurrence string
	Wish       string
}

// NewReminderEmailData fills the email fields from a reminder and an optional wish.
func NewReminderEmailData(r *models.Reminder, wish string) ReminderEmailData {
	data := ReminderEmailData{
		Title:      r.Title,
		EventType:  string(r.EventType),
		Relation:   r.RelationLabel(),
		Date:       schedule.EventDate(r.EventMonth, r.EventDay),
		Recurrence: schedule.HumanReadable(r.RecurrenceType),
		Wish:       wish,
	}
	if r.Notes != nil {
		data.Notes = *r.Notes
	}
	return data
}

// ReminderEmail renders the subject and HTML body. Every field is escaped.
func ReminderEmail(data ReminderEmailData) (subject, html string, err error) {
	var buf bytes.Buffer
	if err := reminderTmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render reminder email: %w", err)
	}
	return "Reminder: " + data.Title, buf.String(), nil
}
