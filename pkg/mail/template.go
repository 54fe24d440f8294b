package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const VerificationSubject = "Email Verification"

var verificationTemplate = template.Must(template.New("verification").Parse(`<h2>Hello {{.Username}}</h2>
<p>Your verification code is: <strong>{{.Code}}</strong></p>
<p>The code expires at {{.Expires}}.</p>
<p>Please verify your email address by opening the following link:
<a href="{{.Link}}">Verify Email</a></p>
`))

// VerificationEmail renders the signup verification message for username.
func VerificationEmail(to, baseURL, username, code string, expiresAt time.Time) (Message, error) {
	link := strings.TrimRight(baseURL, "/") + "/verify/" + username
	var buf bytes.Buffer
	err := verificationTemplate.Execute(&buf, struct {
		Username, Code, Expires, Link string
	}{
		Username: username,
		Code:     code,
		Expires:  expiresAt.UTC().Format("2006-01-02 15:04 MST"),
		Link:     link,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render verification email: %w", err)
	}
	body := buf.String()
	text, err := PlainText(body)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: VerificationSubject, HTML: body, Text: text}, nil
}

var blankRuns = regexp.MustCompile(`[ \t]+`)

// PlainText converts an HTML body to readable text. Links keep their target
// in parentheses.
func PlainText(body string) (string, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse mail html: %w", err)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type != html.ElementNode {
			return
		}
		switch node.Data {
		case "a":
			if href := attr(node, "href"); href != "" {
				buf.WriteString(" (" + href + ")")
			}
		case "p", "br", "div", "li", "h1", "h2", "h3":
			buf.WriteString("\n")
		}
	}
	walk(doc)

	lines := strings.Split(buf.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(blankRuns.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n"), nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
