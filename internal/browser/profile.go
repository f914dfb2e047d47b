package browser

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/jonathan/open-outreach/internal/touchpoint"
)

// enrichProfile opens a profile, renders it fully, and extracts structured
// fields from the DOM.
func (s *session) enrichProfile(ctx context.Context, url string) (map[string]any, error) {
	if err := s.navigate(ctx, url, "/in/"); err != nil {
		return nil, err
	}

	// Scroll through the page so lazy sections (experience, education)
	// render before we snapshot the DOM.
	var html string
	if err := s.run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight/2)`, nil),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return nil, err
	}

	profile, err := parseProfileHTML(html)
	if err != nil {
		return nil, err
	}
	profile["url"] = url
	if id := publicIdentifierFromURL(url); id != "" {
		profile["public_identifier"] = id
	}

	log.Printf("[BROWSER] Profile enriched → %s", url)
	return map[string]any{"profile": profile}, nil
}

// parseProfileHTML extracts profile fields from a rendered profile page.
func parseProfileHTML(html string) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	profile := map[string]any{}
	if name := cleanText(doc.Find("main h1").First()); name != "" {
		profile["full_name"] = name
	}
	if headline := cleanText(doc.Find("main div.text-body-medium").First()); headline != "" {
		profile["headline"] = headline
	}
	if location := cleanText(doc.Find("main span.text-body-small.inline").First()); location != "" {
		profile["location"] = location
	}
	if about := cleanText(doc.Find(`section:has(div#about) div.display-flex span[aria-hidden="true"]`).First()); about != "" {
		profile["about"] = about
	}

	var experience []map[string]string
	doc.Find(`section:has(div#experience) li.artdeco-list__item`).Each(func(_ int, sel *goquery.Selection) {
		title := cleanText(sel.Find(`div.t-bold span[aria-hidden="true"]`).First())
		company := cleanText(sel.Find(`span.t-normal span[aria-hidden="true"]`).First())
		if title == "" && company == "" {
			return
		}
		experience = append(experience, map[string]string{"title": title, "company": company})
	})
	if len(experience) > 0 {
		profile["experience"] = experience
	}

	if len(profile) == 0 {
		return nil, &touchpoint.ExecError{
			Kind:    touchpoint.KindUIChanged,
			Message: "no recognizable profile fields in page",
		}
	}
	return profile, nil
}

func cleanText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// publicIdentifierFromURL pulls the vanity identifier out of a profile URL,
// e.g. "https://www.linkedin.com/in/lexfridman/" -> "lexfridman".
func publicIdentifierFromURL(url string) string {
	idx := strings.Index(url, "/in/")
	if idx < 0 {
		return ""
	}
	rest := strings.Trim(url[idx+len("/in/"):], "/")
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q]
	}
	return rest
}
