package notifications

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"golang.org/x/text/language"
)

// catalogue holds the subject, plain text and HTML templates for one message kind in one locale.
type catalogue struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

type messageKind string

const (
	kindGuestCancelled messageKind = "guest_cancelled"
	kindHostNotified   messageKind = "host_notified"
	kindHostCancelled  messageKind = "host_cancelled"
	kindRefundIssued   messageKind = "refund_issued"
)

var supportedLocales = []language.Tag{language.English, language.Arabic}

var localeMatcher = language.NewMatcher(supportedLocales)

// matchLocale picks English or Arabic for a stored locale such as "ar-BH" or "en_GB".
func matchLocale(locale string) language.Tag {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	if locale == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return supportedLocales[idx]
}

type rawTemplate struct {
	subject string
	text    string
	html    string
}

var rawTemplates = map[language.Tag]map[messageKind]rawTemplate{
	language.English: {
		kindGuestCancelled: {
			subject: "Your booking at {{.CampTitle}} is cancelled",
			text: `Hello {{.GuestName}},

Your booking {{.BookingID}} at {{.CampTitle}} for {{.CheckIn}} has been cancelled.
{{if .HasRefund}}A refund of {{.RefundAmount}} ({{.RefundPercentage}}%) is on its way to your original payment method.{{else}}This cancellation is not eligible for a refund.{{end}}
{{.RefundReason}}
`,
			html: `<p>Hello {{.GuestName}},</p>
<p>Your booking <strong>{{.BookingID}}</strong> at {{.CampTitle}} for {{.CheckIn}} has been cancelled.</p>
{{if .HasRefund}}<p>A refund of <strong>{{.RefundAmount}}</strong> ({{.RefundPercentage}}%) is on its way to your original payment method.</p>{{else}}<p>This cancellation is not eligible for a refund.</p>{{end}}
<p>{{.RefundReason}}</p>`,
		},
		kindHostNotified: {
			subject: "Booking {{.BookingID}} was cancelled",
			text: `The booking {{.BookingID}} at {{.CampTitle}} for {{.CheckIn}} was cancelled.
{{if .Reason}}Reason: {{.Reason}}
{{end}}Guest refund: {{.RefundAmount}}
`,
			html: `<p>The booking <strong>{{.BookingID}}</strong> at {{.CampTitle}} for {{.CheckIn}} was cancelled.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}
<p>Guest refund: {{.RefundAmount}}</p>`,
		},
		kindHostCancelled: {
			subject: "You cancelled booking {{.BookingID}}",
			text: `You cancelled booking {{.BookingID}} at {{.CampTitle}} for {{.CheckIn}}.
The guest receives a full refund of {{.RefundAmount}}.
Penalty: {{.PenaltyAmount}} ({{.PenaltyPercentage}}%). {{.PenaltyMessage}}
`,
			html: `<p>You cancelled booking <strong>{{.BookingID}}</strong> at {{.CampTitle}} for {{.CheckIn}}.</p>
<p>The guest receives a full refund of {{.RefundAmount}}.</p>
<p>Penalty: <strong>{{.PenaltyAmount}}</strong> ({{.PenaltyPercentage}}%). {{.PenaltyMessage}}</p>`,
		},
		kindRefundIssued: {
			subject: "Your refund of {{.RefundAmount}} has been issued",
			text: `Hello {{.GuestName}},

We refunded {{.RefundAmount}} for booking {{.BookingID}} at {{.CampTitle}}.
Depending on your bank it can take 5 to 10 business days to appear.
Reference: {{.GatewayRefundID}}
`,
			html: `<p>Hello {{.GuestName}},</p>
<p>We refunded <strong>{{.RefundAmount}}</strong> for booking {{.BookingID}} at {{.CampTitle}}.</p>
<p>Depending on your bank it can take 5 to 10 business days to appear.</p>
<p>Reference: {{.GatewayRefundID}}</p>`,
		},
	},
	language.Arabic: {
		kindGuestCancelled: {
			subject: "تم إلغاء حجزك في {{.CampTitle}}",
			text: `مرحباً {{.GuestName}}،

تم إلغاء حجزك رقم {{.BookingID}} في {{.CampTitle}} بتاريخ {{.CheckIn}}.
{{if .HasRefund}}سيتم استرداد مبلغ {{.RefundAmount}} ({{.RefundPercentage}}%) إلى وسيلة الدفع الأصلية.{{else}}هذا الإلغاء غير مؤهل لاسترداد المبلغ.{{end}}
`,
			html: `<div dir="rtl"><p>مرحباً {{.GuestName}}،</p>
<p>تم إلغاء حجزك رقم <strong>{{.BookingID}}</strong> في {{.CampTitle}} بتاريخ {{.CheckIn}}.</p>
{{if .HasRefund}}<p>سيتم استرداد مبلغ <strong>{{.RefundAmount}}</strong> ({{.RefundPercentage}}%) إلى وسيلة الدفع الأصلية.</p>{{else}}<p>هذا الإلغاء غير مؤهل لاسترداد المبلغ.</p>{{end}}</div>`,
		},
		kindHostNotified: {
			subject: "تم إلغاء الحجز {{.BookingID}}",
			text: `تم إلغاء الحجز {{.BookingID}} في {{.CampTitle}} بتاريخ {{.CheckIn}}.
{{if .Reason}}السبب: {{.Reason}}
{{end}}المبلغ المسترد للضيف: {{.RefundAmount}}
`,
			html: `<div dir="rtl"><p>تم إلغاء الحجز <strong>{{.BookingID}}</strong> في {{.CampTitle}} بتاريخ {{.CheckIn}}.</p>
{{if .Reason}}<p>السبب: {{.Reason}}</p>{{end}}
<p>المبلغ المسترد للضيف: {{.RefundAmount}}</p></div>`,
		},
		kindHostCancelled: {
			subject: "لقد ألغيت الحجز {{.BookingID}}",
			text: `لقد ألغيت الحجز {{.BookingID}} في {{.CampTitle}} بتاريخ {{.CheckIn}}.
سيحصل الضيف على استرداد كامل بقيمة {{.RefundAmount}}.
الغرامة: {{.PenaltyAmount}} ({{.PenaltyPercentage}}%).
`,
			html: `<div dir="rtl"><p>لقد ألغيت الحجز <strong>{{.BookingID}}</strong> في {{.CampTitle}} بتاريخ {{.CheckIn}}.</p>
<p>سيحصل الضيف على استرداد كامل بقيمة {{.RefundAmount}}.</p>
<p>الغرامة: <strong>{{.PenaltyAmount}}</strong> ({{.PenaltyPercentage}}%).</p></div>`,
		},
		kindRefundIssued: {
			subject: "تم إصدار استرداد بقيمة {{.RefundAmount}}",
			text: `مرحباً {{.GuestName}}،

تم استرداد {{.RefundAmount}} للحجز {{.BookingID}} في {{.CampTitle}}.
قد يستغرق ظهور المبلغ من 5 إلى 10 أيام عمل حسب البنك.
المرجع: {{.GatewayRefundID}}
`,
			html: `<div dir="rtl"><p>مرحباً {{.GuestName}}،</p>
<p>تم استرداد <strong>{{.RefundAmount}}</strong> للحجز {{.BookingID}} في {{.CampTitle}}.</p>
<p>قد يستغرق ظهور المبلغ من 5 إلى 10 أيام عمل حسب البنك.</p>
<p>المرجع: {{.GatewayRefundID}}</p></div>`,
		},
	},
}

func parseCatalogues() map[language.Tag]map[messageKind]catalogue {
	out := make(map[language.Tag]map[messageKind]catalogue, len(rawTemplates))
	for tag, kinds := range rawTemplates {
		parsed := make(map[messageKind]catalogue, len(kinds))
		for kind, raw := range kinds {
			name := tag.String() + "." + string(kind)
			parsed[kind] = catalogue{
				subject: texttemplate.Must(texttemplate.New(name + ".subject").Parse(raw.subject)),
				text:    texttemplate.Must(texttemplate.New(name + ".text").Parse(raw.text)),
				html:    htmltemplate.Must(htmltemplate.New(name + ".html").Parse(raw.html)),
			}
		}
		out[tag] = parsed
	}
	return out
}

type rendered struct {
	subject string
	text    string
	html    string
}

func (c catalogue) render(data messageData) (rendered, error) {
	var subject, text, html bytes.Buffer
	if err := c.subject.Execute(&subject, data); err != nil {
		return rendered{}, err
	}
	if err := c.text.Execute(&text, data); err != nil {
		return rendered{}, err
	}
	if err := c.html.Execute(&html, data); err != nil {
		return rendered{}, err
	}
	return rendered{
		subject: strings.TrimSpace(subject.String()),
		text:    text.String(),
		html:    html.String(),
	}, nil
}
