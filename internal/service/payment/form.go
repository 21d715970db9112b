package payment

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/url"

	"imi-storefront/internal/domain"
)

// Field is one hidden input of the hand-off form.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Form is an auto-submitting POST to the gateway's hosted page. Action is
// the form target and is never sent as a field.
type Form struct {
	Action string  `json:"action"`
	Method string  `json:"method"`
	Fields []Field `json:"fields"`
}

// Value returns the value of the named field, or "".
func (f Form) Value(name string) string {
	for _, fl := range f.Fields {
		if fl.Name == name {
			return fl.Value
		}
	}
	return ""
}

// NewForm maps the signed payload onto hidden fields in the order the
// gateway documents. Values are passed through untouched; the hash is
// opaque here.
func NewForm(data domain.PaymentData) (Form, error) {
	if data.Action == "" {
		return Form{}, errors.New("payment action required")
	}
	u, err := url.Parse(data.Action)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Form{}, fmt.Errorf("payment action %q is not an absolute http(s) url", data.Action)
	}
	if data.TxnID == "" || data.Hash == "" {
		return Form{}, errors.New("payment txnid and hash required")
	}
	return Form{
		Action: data.Action,
		Method: "POST",
		Fields: []Field{
			{Name: "key", Value: data.Key},
			{Name: "txnid", Value: data.TxnID},
			{Name: "amount", Value: data.Amount},
			{Name: "productinfo", Value: data.ProductInfo},
			{Name: "firstname", Value: data.FirstName},
			{Name: "email", Value: data.Email},
			{Name: "phone", Value: data.Phone},
			{Name: "surl", Value: data.SURL},
			{Name: "furl", Value: data.FURL},
			{Name: "hash", Value: data.Hash},
		},
	}, nil
}

var autoSubmit = template.Must(template.New("handoff").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting to payment</title></head>
<body onload="document.forms[0].submit()">
<form method="{{.Method}}" action="{{.Action}}" style="display:none">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{- end}}
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

// RenderAutoSubmit writes a page that posts form as soon as it loads.
func RenderAutoSubmit(w io.Writer, form Form) error {
	return autoSubmit.Execute(w, form)
}
