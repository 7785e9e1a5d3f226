package cim

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const maxFaultText = 512

// htmlFaultMessage pulls a readable message out of an HTML error page, as
// served by application servers and proxies in front of Connect.
func htmlFaultMessage(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	title := collapse(doc.Find("title").First().Text())
	heading := collapse(doc.Find("h1").First().Text())
	detail := collapse(doc.Find("body p").First().Text())

	parts := make([]string, 0, 3)
	for _, p := range []string{title, heading, detail} {
		if p != "" && !contains(parts, p) {
			parts = append(parts, p)
		}
	}

	msg := strings.Join(parts, ": ")
	if msg == "" {
		msg = collapse(doc.Find("body").Text())
	}
	return truncate(msg, maxFaultText)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
