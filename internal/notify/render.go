package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"medminder/internal/owner"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templateFuncs = template.FuncMap{
	"hhmm": func(v any) string {
		if t, ok := v.(interface{ Format(string) string }); ok {
			return t.Format("15:04")
		}
		return fmt.Sprint(v)
	},
	"plural": func(n int, one, many string) string {
		if n == 1 {
			return one
		}
		return many
	},
}

func mustTemplate(subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New("subject").Funcs(templateFuncs).Parse(subject)),
		body:    template.Must(template.New("body").Funcs(templateFuncs).Parse(body)),
	}
}

var templates = map[owner.Class]messageTemplate{
	owner.ClassReminder: mustTemplate(
		`Time to take {{.Medicine}}`,
		`It is {{hhmm .ScheduledAt}}: take {{.DoseSize}} {{plural .DoseSize "dose" "doses"}} of {{.Medicine}}.`,
	),
	owner.ClassMissed: mustTemplate(
		`Missed dose: {{.Medicine}}`,
		`The {{hhmm .ScheduledAt}} dose of {{.Medicine}} was not recorded and has been marked missed at {{hhmm .MissedAt}}.`,
	),
	owner.ClassAdherence: mustTemplate(
		`Dose taken: {{.Medicine}}`,
		`The {{hhmm .ScheduledAt}} dose of {{.Medicine}} was taken at {{hhmm .TakenAt}}. {{.Remaining}} {{plural .Remaining "dose" "doses"}} left.`,
	),
	owner.ClassLowInventory: mustTemplate(
		`Running low: {{.Medicine}}`,
		`Only {{.Remaining}} {{plural .Remaining "dose" "doses"}} of {{.Medicine}} left (threshold {{.Threshold}}). Time to refill.`,
	),
}

// Render produces the subject and body for n.
func Render(n Notice) (subject, body string, err error) {
	tpl, ok := templates[n.Class()]
	if !ok {
		return "", "", fmt.Errorf("no template for %s notice", n.Class())
	}
	var sb, bb bytes.Buffer
	if err := tpl.subject.Execute(&sb, n); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", n.Class(), err)
	}
	if err := tpl.body.Execute(&bb, n); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", n.Class(), err)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(bb.String()), nil
}
